// Package common holds the small scalar types shared across the consensus
// core: heights, rounds and validator indices. Hashes and addresses are not
// re-typed here; callers use github.com/ethereum/go-ethereum/common directly,
// the same way the teacher fork re-exports its upstream.
package common

import "fmt"

// Height is a monotonically increasing block index. Genesis is height 0.
type Height uint64

// Next returns the following height.
func (h Height) Next() Height { return h + 1 }

func (h Height) String() string { return fmt.Sprintf("%d", uint64(h)) }

// Round is a per-height attempt counter. The first round is 1.
type Round int64

// Next returns the following round.
func (r Round) Next() Round { return r + 1 }

func (r Round) String() string { return fmt.Sprintf("%d", int64(r)) }

// ValidatorId is a validator's position in the current validator list.
type ValidatorId uint16

// Quorum returns Q = floor(2n/3) + 1 for a committee of n validators.
func Quorum(n int) int {
	return (2*n)/3 + 1
}

// Leader returns the expected proposer index for (height, round) given a
// committee of size n: leader(h, r) = (h + r) mod n.
func Leader(h Height, r Round, n int) ValidatorId {
	if n <= 0 {
		return 0
	}
	idx := (int64(h) + int64(r)) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return ValidatorId(idx)
}
