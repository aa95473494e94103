package bitcoin

import (
	"testing"

	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

type weightedItem uint32

func (w weightedItem) Weight() uint32 { return uint32(w) }

func toWeightedItems(weights []uint32) []weightedItem {
	items := make([]weightedItem, len(weights))
	for i, w := range weights {
		items[i] = weightedItem(w)
	}
	return items
}

// P7 / test-case "or-tools example": bags stay within capacity.
func TestPackByWeight_WithinCapacity(t *testing.T) {
	weights := []uint32{48, 30, 19, 36, 36, 27, 42, 42, 36, 24, 30}
	bags := PackByWeight(toWeightedItems(weights), 100)

	for _, bag := range bags {
		var total uint32
		for _, it := range bag {
			total += it.Weight()
		}
		if total > 100 {
			t.Fatalf("bag exceeds capacity: %d > 100", total)
		}
		if len(bag) == 0 {
			t.Fatalf("empty bag returned")
		}
	}
}

// P7: bags <= floor(11/9 * OPT) + 1, which never exceeds the
// ceil(11/9 * OPT + 1) bound.
func TestPackByWeight_NearOptimal(t *testing.T) {
	cases := []struct {
		weights []uint32
		cap     uint32
		optimal int
	}{
		{[]uint32{5, 7, 5, 2, 4, 2, 5, 1, 6}, 10, 4},
		{[]uint32{6, 1, 0, 3, 0, 4, 4, 0, 0, 2}, 10, 2},
	}
	for _, c := range cases {
		bags := PackByWeight(toWeightedItems(c.weights), c.cap)
		bound := c.optimal*11/9 + 1
		if len(bags) > bound {
			t.Fatalf("got %d bags, want <= %d (optimal=%d)", len(bags), bound, c.optimal)
		}
	}
}

func TestPackByWeight_HappyPathBagCount(t *testing.T) {
	cases := []struct {
		weights  []uint32
		cap      uint32
		expected int
	}{
		{[]uint32{0, 1, 0, 0, 0, 1, 0, 0, 0, 0}, 4, 1},
		{[]uint32{6, 1, 0, 3, 0, 4, 4, 0, 0, 2}, 10, 2},
	}
	for _, c := range cases {
		bags := PackByWeight(toWeightedItems(c.weights), c.cap)
		if len(bags) != c.expected {
			t.Fatalf("weights=%v cap=%d: got %d bags, want %d", c.weights, c.cap, len(bags), c.expected)
		}
	}
}

type voteItem struct {
	hi, lo uint64
	mass   uint16
	vsize  uint64
}

func (v voteItem) VotesHiLo() (uint64, uint64) { return v.hi, v.lo }
func (v voteItem) Mass() uint16                { return v.mass }
func (v voteItem) Vsize() uint64               { return v.vsize }

// Scenario 6 / P1: six items, no votes against, one bag expected.
func TestPackByVotes_SingleBagWhenNoVotes(t *testing.T) {
	items := make([]voteItem, 6)
	for i := range items {
		items[i] = voteItem{hi: 0, lo: 0, mass: 1, vsize: 100}
	}

	bags := PackByVotes(items, 1, 100)
	if len(bags) != 1 {
		t.Fatalf("expected exactly one bag, got %d", len(bags))
	}
	if len(bags[0]) != 6 {
		t.Fatalf("expected all six items in the single bag, got %d", len(bags[0]))
	}
}

// P1: every bag respects max_votes_against, max_mass, and the mempool
// ancestor vsize budget.
func TestPackByVotes_RespectsLimits(t *testing.T) {
	items := []voteItem{
		{hi: 0, lo: 0b0001, mass: 1, vsize: 200},
		{hi: 0, lo: 0b0010, mass: 1, vsize: 200},
		{hi: 0, lo: 0b0100, mass: 1, vsize: 200},
		{hi: 0, lo: 0b1000, mass: 1, vsize: 200},
		{hi: 0, lo: 0b0011, mass: 1, vsize: 200},
	}
	const maxVotesAgainst = 1
	const maxMass = 3

	bags := PackByVotes(items, maxVotesAgainst, maxMass)

	var totalVsize uint64
	for _, bag := range bags {
		var hi, lo uint64
		var mass uint16
		for _, it := range bag {
			h, l := it.VotesHiLo()
			hi |= h
			lo |= l
			mass += it.Mass()
			totalVsize += it.Vsize()
		}
		if votePopcount(hi, lo) > maxVotesAgainst {
			t.Fatalf("bag exceeds max_votes_against")
		}
		if mass > maxMass {
			t.Fatalf("bag exceeds max_mass")
		}
	}
	if totalVsize > MaxMempoolAncestorVsize {
		t.Fatalf("package exceeds mempool ancestor vsize budget")
	}
}

func TestPackByVotes_RejectsOverLimitItems(t *testing.T) {
	items := []voteItem{
		{hi: 0, lo: 0b111, mass: 1, vsize: 100}, // 3 votes against, over limit 1
		{hi: 0, lo: 0, mass: 1, vsize: 100},
	}
	bags := PackByVotes(items, 1, 10)

	var total int
	for _, b := range bags {
		total += len(b)
	}
	if total != 1 {
		t.Fatalf("expected the over-limit item to be dropped, got %d items placed", total)
	}
}

func TestCommitPackage_Deterministic(t *testing.T) {
	txs := []TxRequestIDs{
		{Deposits: []model.Outpoint{{Vout: 0}, {Vout: 1}}},
	}

	a, err := CommitPackage(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CommitPackage(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("expected deterministic commitment, got %x != %x", a, b)
	}

	if err := VerifyCommitment(a, txs); err != nil {
		t.Fatalf("expected commitment to verify: %v", err)
	}

	mutated := []TxRequestIDs{{Deposits: []model.Outpoint{{Vout: 0}}}}
	if err := VerifyCommitment(a, mutated); err != ErrWrongCommitmentHash {
		t.Fatalf("expected ErrWrongCommitmentHash, got %v", err)
	}
}

func TestCommitPackage_Empty(t *testing.T) {
	if _, err := CommitPackage(nil); err != ErrEmptyPackage {
		t.Fatalf("expected ErrEmptyPackage, got %v", err)
	}
}
