package bitcoin

import (
	"fmt"
	"sort"
)

// MaxMempoolAncestorVsize is the mempool ancestor-package budget (spec
// §4.2): the real bitcoin core limit is 101,000 vbytes; we leave headroom
// under it.
const MaxMempoolAncestorVsize = 95_000

// Weighted is an item the weight-only packager can bin-pack.
type Weighted interface {
	Weight() uint32
}

// PackByWeight implements the best-fit-decreasing bin-packer of spec
// §4.2(a), translated from
// original_source/signer/src/bitcoin/packaging.rs:compute_optimal_packages.
// Items are sorted by weight descending; each is placed into the open bag
// with the smallest remaining capacity that still fits, else a new bag is
// opened. Items whose weight exceeds capacity are dropped.
func PackByWeight[T Weighted](items []T, capacity uint32) [][]T {
	type entry struct {
		weight uint32
		item   T
	}
	sorted := make([]entry, 0, len(items))
	for _, it := range items {
		sorted = append(sorted, entry{weight: it.Weight(), item: it})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].weight > sorted[j].weight
	})

	type bag struct {
		remaining uint32
		items     []T
	}
	var bags []*bag

	for _, e := range sorted {
		if e.weight > capacity {
			continue
		}
		// Find the open bag with the smallest remaining capacity that
		// still fits this item (best-fit).
		var best *bag
		for _, b := range bags {
			if b.remaining >= e.weight && (best == nil || b.remaining < best.remaining) {
				best = b
			}
		}
		if best == nil {
			bags = append(bags, &bag{remaining: capacity - e.weight, items: []T{e.item}})
			continue
		}
		best.remaining -= e.weight
		best.items = append(best.items, e.item)
	}

	out := make([][]T, 0, len(bags))
	for _, b := range bags {
		out = append(out, b.items)
	}
	return out
}

// Weighted2 is an item the vote-aware packager can bin-pack (spec
// §4.2(b)).
type Weighted2 interface {
	// VotesHiLo returns the high and low words of the 128-bit
	// vote-against bitmap.
	VotesHiLo() (hi, lo uint64)
	// Mass is the small unit count of the item.
	Mass() uint16
	// Vsize is the virtual byte size of the item in a sweep transaction.
	Vsize() uint64
}

// PackByVotes implements the vote-aware bin-packer of spec §4.2(b) —
// the primary packager — translated from
// original_source/signer/src/bitcoin/packaging.rs:compute_optimal_packages2.
//
// Items are sorted by popcount(votes) descending (pack the most-contested
// items first). An item is rejected outright if its own vote count
// exceeds maxVotesAgainst, its mass exceeds maxMass, or admitting its
// vsize would push the running total over MaxMempoolAncestorVsize.
// Otherwise it is placed in the first bag (in creation order) whose
// aggregate bitmap OR'd with the item's votes still satisfies
// maxVotesAgainst and whose mass plus the item's mass still satisfies
// maxMass; if no bag fits, a new bag is always opened.
func PackByVotes[T Weighted2](items []T, maxVotesAgainst uint32, maxMass uint16) [][]T {
	type entry struct {
		votes int
		item  T
	}
	sorted := make([]entry, 0, len(items))
	for _, it := range items {
		hi, lo := it.VotesHiLo()
		sorted = append(sorted, entry{votes: votePopcount(hi, lo), item: it})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].votes > sorted[j].votes
	})

	type bag struct {
		hi, lo uint64
		mass   uint16
		items  []T
	}
	var bags []*bag
	var totalVsize uint64

	for _, e := range sorted {
		hi, lo := e.item.VotesHiLo()
		mass := e.item.Mass()
		vsize := e.item.Vsize()

		aboveLimits := uint32(votePopcount(hi, lo)) > maxVotesAgainst ||
			mass > maxMass ||
			totalVsize+vsize > MaxMempoolAncestorVsize
		if aboveLimits {
			continue
		}
		totalVsize += vsize

		var target *bag
		for _, b := range bags {
			combinedHi, combinedLo := b.hi|hi, b.lo|lo
			if uint32(votePopcount(combinedHi, combinedLo)) <= maxVotesAgainst &&
				b.mass+mass <= maxMass {
				target = b
				break
			}
		}
		if target == nil {
			bags = append(bags, &bag{hi: hi, lo: lo, mass: mass, items: []T{e.item}})
			continue
		}
		target.hi |= hi
		target.lo |= lo
		target.mass += mass
		target.items = append(target.items, e.item)
	}

	out := make([][]T, 0, len(bags))
	for _, b := range bags {
		out = append(out, b.items)
	}
	return out
}

// VerifyPackageCommitment re-derives each bag's vote bitmap/mass/vsize
// totals and compares them against a previously committed plan, returning
// an error if they diverge. Adapted from the target-wallet
// commitment-hash recheck in moving_funds_teacher_ref.go's
// ErrWrongCommitmentHash pattern: both verify that a recomputation still
// matches a previously committed selection before acting on it. The
// coordinator loop does not call it.
func VerifyPackageCommitment[T Weighted2](committed [][]T, recomputed [][]T) error {
	if len(committed) != len(recomputed) {
		return fmt.Errorf("package commitment mismatch: %d bags committed, %d recomputed", len(committed), len(recomputed))
	}
	totals := func(bag []T) (hi, lo uint64, mass uint16, vsize uint64) {
		for _, it := range bag {
			h, l := it.VotesHiLo()
			hi, lo = hi|h, lo|l
			mass += it.Mass()
			vsize += it.Vsize()
		}
		return hi, lo, mass, vsize
	}
	for i := range committed {
		if len(committed[i]) != len(recomputed[i]) {
			return fmt.Errorf("package commitment mismatch: bag %d has %d items committed, %d recomputed", i, len(committed[i]), len(recomputed[i]))
		}
		cHi, cLo, cMass, cVsize := totals(committed[i])
		rHi, rLo, rMass, rVsize := totals(recomputed[i])
		if cHi != rHi || cLo != rLo || cMass != rMass || cVsize != rVsize {
			return fmt.Errorf("package commitment mismatch: bag %d vote bitmap, mass or vsize differs", i)
		}
	}
	return nil
}
