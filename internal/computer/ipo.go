package computer

import (
	"sync"

	"validator-node/internal/types"
)

// IPOBid is one entry in a contract's pre-construction auction list.
type IPOBid struct {
	PublicKey types.PublicKey
	Price     int64
}

// IPO holds the NumberOfComputors highest bids for one not-yet-constructed
// contract (§3.4, §4.F.3), sorted descending by price with ties resolved
// in favour of the earlier bidder (§4.F numeric/edge policies).
type IPO struct {
	mu   sync.Mutex
	bids []IPOBid // always sorted descending, len <= NumberOfComputors
}

// NewIPO returns an empty IPO auction list.
func NewIPO() *IPO { return &IPO{} }

// Bids returns a snapshot of the current bid list, highest first.
func (ipo *IPO) Bids() []IPOBid {
	ipo.mu.Lock()
	defer ipo.mu.Unlock()
	out := make([]IPOBid, len(ipo.bids))
	copy(out, ipo.bids)
	return out
}

// Insert adds a bid, keeping the list sorted descending and capped at
// NumberOfComputors entries. If the list is full and the new bid does not
// outrank the lowest entry, it is rejected outright (refund the full
// amount). Otherwise any displaced bidder is returned so its one-unit bid
// price can be refunded by the caller.
func (ipo *IPO) Insert(bid IPOBid) (displaced *IPOBid, accepted bool) {
	ipo.mu.Lock()
	defer ipo.mu.Unlock()

	if len(ipo.bids) >= types.NumberOfComputors && bid.Price <= ipo.bids[len(ipo.bids)-1].Price {
		return nil, false
	}

	// Insertion point: first bid with Price < bid.Price (ties keep the
	// earlier bidder ahead, so strictly-less is the insertion boundary).
	pos := len(ipo.bids)
	for i, b := range ipo.bids {
		if bid.Price > b.Price {
			pos = i
			break
		}
	}
	ipo.bids = append(ipo.bids, IPOBid{})
	copy(ipo.bids[pos+1:], ipo.bids[pos:len(ipo.bids)-1])
	ipo.bids[pos] = bid

	if len(ipo.bids) > types.NumberOfComputors {
		last := ipo.bids[len(ipo.bids)-1]
		ipo.bids = ipo.bids[:types.NumberOfComputors]
		return &last, true
	}
	return nil, true
}

// FinalPrice returns the settlement price: the lowest accepted bid (the
// 676th-highest), zero if fewer than NumberOfComputors bids were received.
func (ipo *IPO) FinalPrice() int64 {
	ipo.mu.Lock()
	defer ipo.mu.Unlock()
	if len(ipo.bids) < types.NumberOfComputors {
		return 0
	}
	return ipo.bids[types.NumberOfComputors-1].Price
}
