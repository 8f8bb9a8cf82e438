package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/matsen/coauthor/internal/config"
)

// Record is one encoded query with its ground truth.
type Record struct {
	Index    int       // position in the source files
	Query    []string  // author identifiers as read
	Features []float64 // encoded feature vector
	Label    bool
}

// Split holds the frozen train and validation partitions.
type Split struct {
	Train []Record
	Val   []Record

	// TrainIdx and ValIdx hold the source indices of each partition.
	TrainIdx *roaring.Bitmap
	ValIdx   *roaring.Bitmap
}

// Len returns the total number of records.
func (s *Split) Len() int {
	return len(s.Train) + len(s.Val)
}

// Disjoint reports whether no record appears in both partitions.
func (s *Split) Disjoint() bool {
	return !s.TrainIdx.Intersects(s.ValIdx)
}

// newRand returns the deterministic source used for all shuffles of a seed.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// StratifiedSplit partitions records into train and validation sets.
// Each label class contributes to the validation set in proportion to
// valRatio, and the result depends only on the records and the seed.
// With two or more records both partitions are non-empty.
func StratifiedSplit(records []Record, valRatio float64, seed uint64) (*Split, error) {
	if err := config.ValidateRatio(valRatio); err != nil {
		return nil, err
	}

	rng := newRand(seed)

	// Class order is fixed (false, true) so the rng stream is reproducible.
	var classes [2][]int
	for i, r := range records {
		c := 0
		if r.Label {
			c = 1
		}
		classes[c] = append(classes[c], i)
	}
	for _, idx := range classes {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	quota := valQuota(len(classes[0]), len(classes[1]), valRatio)

	var trainPos, valPos []int
	for c, idx := range classes {
		valPos = append(valPos, idx[:quota[c]]...)
		trainPos = append(trainPos, idx[quota[c]:]...)
	}

	// Interleave the classes within each partition.
	rng.Shuffle(len(trainPos), func(i, j int) { trainPos[i], trainPos[j] = trainPos[j], trainPos[i] })
	rng.Shuffle(len(valPos), func(i, j int) { valPos[i], valPos[j] = valPos[j], valPos[i] })

	s := &Split{
		Train:    make([]Record, len(trainPos)),
		Val:      make([]Record, len(valPos)),
		TrainIdx: roaring.New(),
		ValIdx:   roaring.New(),
	}
	for i, p := range trainPos {
		s.Train[i] = records[p]
		s.TrainIdx.Add(uint32(records[p].Index))
	}
	for i, p := range valPos {
		s.Val[i] = records[p]
		s.ValIdx.Add(uint32(records[p].Index))
	}

	if !s.Disjoint() {
		return nil, fmt.Errorf("split produced overlapping partitions (duplicate record indices)")
	}
	return s, nil
}

// valQuota returns how many records of each class go to validation.
// The total is round(n*ratio), clamped to [1, n-1] when n >= 2, and is
// shared between classes by largest remainder.
func valQuota(nFalse, nTrue int, ratio float64) [2]int {
	n := nFalse + nTrue
	sizes := [2]int{nFalse, nTrue}
	if n < 2 {
		return [2]int{}
	}

	target := int(math.Round(float64(n) * ratio))
	target = max(1, min(target, n-1))

	var quota [2]int
	type frac struct {
		class int
		rem   float64
	}
	var fracs []frac
	sum := 0
	for c, size := range sizes {
		exact := float64(size) * ratio
		quota[c] = int(math.Floor(exact))
		sum += quota[c]
		fracs = append(fracs, frac{class: c, rem: exact - float64(quota[c])})
	}
	sort.SliceStable(fracs, func(i, j int) bool { return fracs[i].rem > fracs[j].rem })

	for sum < target {
		moved := false
		for _, f := range fracs {
			if sum < target && quota[f.class] < sizes[f.class] {
				quota[f.class]++
				sum++
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return quota
}
