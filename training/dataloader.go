package training

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                     // Total number of samples
	Get(idx int) (*Sample, error) // Returns a single sample
}

// BatchSource is what the controller consumes for one phase
type BatchSource interface {
	DatasetLen() int
	NumBatches() int
	Batches() iter.Seq2[*Batch, error]
}

// DataLoader provides batching, shuffling and prefetching over a Dataset
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	rng        *rand.Rand
	indices    []int
}

// NewDataLoader creates a new DataLoader. With numWorkers > 1 up to
// numWorkers batches are loaded ahead of the consumer; batch order is
// preserved either way.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int, seed uint64) *DataLoader {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		indices:    indices,
	}
}

// DatasetLen returns the number of samples
func (dl *DataLoader) DatasetLen() int {
	return dl.dataset.Len()
}

// NumBatches returns the number of batches in an epoch
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset reshuffles the sample order for a new pass
func (dl *DataLoader) Reset() {
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Batches iterates one pass over the dataset. The first error ends the
// pass.
func (dl *DataLoader) Batches() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		dl.Reset()
		order := slices.Clone(dl.indices)
		n := dl.NumBatches()
		if dl.numWorkers == 1 {
			for i := 0; i < n; i++ {
				b, err := dl.loadBatch(order, i)
				if !yield(b, err) || err != nil {
					return
				}
			}
			return
		}

		type result struct {
			batch *Batch
			err   error
		}
		done := make(chan struct{})
		defer close(done)
		pending := make(chan chan result, dl.numWorkers)

		go func() {
			defer close(pending)
			for i := 0; i < n; i++ {
				ch := make(chan result, 1)
				select {
				case pending <- ch:
				case <-done:
					return
				}
				go func(i int) {
					b, err := dl.loadBatch(order, i)
					ch <- result{b, err}
				}(i)
			}
		}()

		for ch := range pending {
			r := <-ch
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
	}
}

// loadBatch loads batch i of order
func (dl *DataLoader) loadBatch(order []int, i int) (*Batch, error) {
	start := i * dl.batchSize
	end := min(start+dl.batchSize, len(order))
	idx := order[start:end]

	samples := make([]*Sample, 0, len(idx))
	for _, j := range idx {
		s, err := dl.dataset.Get(j)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", j, err)
		}
		samples = append(samples, s)
	}
	b, err := Collate(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to collate batch %d: %w", i, err)
	}
	return b, nil
}

// SubsetDataset exposes a subset of another dataset by index
type SubsetDataset struct {
	dataset Dataset
	indices []int
}

// NewSubsetDataset wraps dataset restricted to indices
func NewSubsetDataset(dataset Dataset, indices []int) *SubsetDataset {
	return &SubsetDataset{dataset: dataset, indices: indices}
}

// Head keeps the first n samples of dataset; n <= 0 or n >= Len keeps all
func Head(dataset Dataset, n int) Dataset {
	if n <= 0 || n >= dataset.Len() {
		return dataset
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return NewSubsetDataset(dataset, indices)
}

func (s *SubsetDataset) Len() int {
	return len(s.indices)
}

func (s *SubsetDataset) Get(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(s.indices) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.indices))
	}
	return s.dataset.Get(s.indices[idx])
}
