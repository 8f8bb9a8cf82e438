// Package features encodes author queries as fixed-length feature vectors.
//
// A query of n authors becomes the concatenation of
//
//   - the mean of the member embeddings, and
//   - the mean of the element-wise products over all unordered member pairs,
//
// giving 2*D values for a D-dimensional store. Both halves are symmetric in
// the members, so the encoding does not depend on author order.
package features

import (
	"fmt"
	"sort"

	"github.com/matsen/coauthor/internal/embedding"
)

// Policy decides what happens to query members absent from the store.
type Policy int

const (
	// SkipAbsent drops absent members and aggregates over the rest.
	// A half with too few present members (none for the mean, fewer than
	// two for the pairwise products) is all zeros.
	SkipAbsent Policy = iota
	// FailAbsent rejects any query with an absent member.
	FailAbsent
)

// ParsePolicy maps a configuration value ("skip" or "fail") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "skip":
		return SkipAbsent, nil
	case "fail":
		return FailAbsent, nil
	default:
		return 0, fmt.Errorf("unknown absent-node policy %q", s)
	}
}

func (p Policy) String() string {
	if p == FailAbsent {
		return "fail"
	}
	return "skip"
}

// Report describes how a query was encoded.
type Report struct {
	Present []string // members found in the store, sorted
	Absent  []string // members skipped under SkipAbsent, in query order
}

// Degraded reports whether any member was skipped.
func (r Report) Degraded() bool {
	return len(r.Absent) > 0
}

// Encoder turns queries into feature vectors.
type Encoder struct {
	Policy Policy
}

// Dim returns the feature dimension for a store of dimension storeDim.
func Dim(storeDim int) int {
	return 2 * storeDim
}

// Encode computes the feature vector of query.
// The same query and store always produce bit-identical output, and any
// permutation of the query produces the same output.
func (e Encoder) Encode(query []string, store embedding.Store) ([]float64, Report, error) {
	dim := store.Dim()
	out := make([]float64, Dim(dim))

	var report Report
	present := make([]string, 0, len(query))
	seen := make(map[string]bool, len(query))
	for _, id := range query {
		if !store.Contains(id) {
			if e.Policy == FailAbsent {
				return nil, report, fmt.Errorf("encoding query: %w: %q", embedding.ErrUnknownNode, id)
			}
			report.Absent = append(report.Absent, id)
			continue
		}
		// A repeated author contributes once.
		if seen[id] {
			continue
		}
		seen[id] = true
		present = append(present, id)
	}

	// Canonical order makes float accumulation independent of query order.
	sort.Strings(present)
	report.Present = present

	vecs := make([][]float32, len(present))
	for i, id := range present {
		v, err := store.Vector(id)
		if err != nil {
			return nil, report, fmt.Errorf("encoding query: %w", err)
		}
		vecs[i] = v
	}

	mean := out[:dim]
	if len(vecs) > 0 {
		for _, v := range vecs {
			for k, x := range v {
				mean[k] += float64(x)
			}
		}
		for k := range mean {
			mean[k] /= float64(len(vecs))
		}
	}

	pair := out[dim:]
	if len(vecs) > 1 {
		pairs := 0
		for i := 0; i < len(vecs); i++ {
			for j := i + 1; j < len(vecs); j++ {
				for k := range pair {
					pair[k] += float64(vecs[i][k]) * float64(vecs[j][k])
				}
				pairs++
			}
		}
		for k := range pair {
			pair[k] /= float64(pairs)
		}
	}

	return out, report, nil
}
