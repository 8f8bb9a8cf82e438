package training

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/matsen/coauthor/internal/dataset"
)

// Batch is a mini-batch of feature rows and their labels.
type Batch struct {
	X      *mat.Dense
	Labels []bool
}

// permutation returns the row order for one epoch. Without shuffling rows
// keep their dataset order.
func permutation(n int, shuffle bool, seed uint64, epoch int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewPCG(seed, uint64(epoch)+1))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// batchBounds splits n rows into consecutive [start, end) ranges of size
// batchSize; the last range may be shorter.
func batchBounds(n, batchSize int) [][2]int {
	var bounds [][2]int
	for start := 0; start < n; start += batchSize {
		bounds = append(bounds, [2]int{start, min(start+batchSize, n)})
	}
	return bounds
}

func assemble(records []dataset.Record, rows []int) Batch {
	dim := len(records[rows[0]].Features)
	x := mat.NewDense(len(rows), dim, nil)
	labels := make([]bool, len(rows))
	for i, r := range rows {
		x.SetRow(i, records[r].Features)
		labels[i] = records[r].Label
	}
	return Batch{X: x, Labels: labels}
}

// loader assembles batches in the background. Worker w builds batches
// w, w+W, w+2W, ... into its own single-slot channel, and the consumer
// drains the channels round-robin, so delivery order is the batch order
// whatever the worker count. Workers only read records.
type loader struct {
	g     *errgroup.Group
	slots []chan Batch
	n     int
	next  int
}

func newLoader(ctx context.Context, records []dataset.Record, order []int, batchSize, workers int) *loader {
	bounds := batchBounds(len(order), batchSize)
	workers = max(1, min(workers, len(bounds)))

	g, gctx := errgroup.WithContext(ctx)
	l := &loader{g: g, slots: make([]chan Batch, workers), n: len(bounds)}
	for w := range l.slots {
		l.slots[w] = make(chan Batch, 1)
	}

	for w := 0; w < workers; w++ {
		out := l.slots[w]
		g.Go(func() error {
			defer close(out)
			for b := w; b < len(bounds); b += workers {
				batch := assemble(records, order[bounds[b][0]:bounds[b][1]])
				select {
				case out <- batch:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	return l
}

// Next returns the next batch in order. ok is false once all batches have
// been delivered or the context was cancelled.
func (l *loader) Next() (Batch, bool) {
	if l.next >= l.n {
		return Batch{}, false
	}
	b, ok := <-l.slots[l.next%len(l.slots)]
	if !ok {
		return Batch{}, false
	}
	l.next++
	return b, true
}

// Wait stops the workers and returns the first worker error, if any.
// Batches not yet consumed are discarded.
func (l *loader) Wait() error {
	for _, ch := range l.slots {
		for range ch {
		}
	}
	return l.g.Wait()
}
