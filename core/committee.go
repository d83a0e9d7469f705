package core

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	tcommon "github.com/sigma67/tendercore/common"
)

// Committee is the ordered validator list effective at a height (§3:
// "its position in the current validator list is its ValidatorId"). Index
// i in Members is ValidatorId(i); Auditors follow consensus but do not
// vote and so never appear here.
type Committee struct {
	Members []ethcommon.Address
}

// Size returns the committee's validator count n, used for Quorum().
func (c Committee) Size() int { return len(c.Members) }

// Address resolves a ValidatorId to its consensus address.
func (c Committee) Address(id ValidatorId) (ethcommon.Address, bool) {
	if int(id) < 0 || int(id) >= len(c.Members) {
		return ethcommon.Address{}, false
	}
	return c.Members[id], true
}

// IndexOf resolves an address back to its ValidatorId, for messages
// arriving from the network (§4.1 "author is in the current validator
// set").
func (c Committee) IndexOf(addr ethcommon.Address) (ValidatorId, bool) {
	for i, m := range c.Members {
		if m == addr {
			return ValidatorId(i), true
		}
	}
	return 0, false
}

// ValidatorId is a local alias so core files read without the tcommon.
// prefix.
type ValidatorId = tcommon.ValidatorId
