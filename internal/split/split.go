// Package split deterministically partitions a dataset index into K folds.
package split

import (
	"fmt"
	"math/rand"

	"github.com/raphaelgruber/detrain/internal/run"
)

// Partition is the result of planning a cross-validation split. Folds holds
// K disjoint validation index sets; Holdout is the optional fixed test set
// excluded from every fold.
type Partition struct {
	Folds   [][]int
	Holdout []int
}

// Plan partitions [0, datasetSize) into k disjoint, size-balanced folds.
// The permutation is a pure function of (datasetSize, seed) and the fold
// boundaries a pure function of (datasetSize, k), so identical inputs always
// yield identical partitions. Fold sizes differ by at most one; the first
// datasetSize mod k folds carry the extra index.
func Plan(datasetSize, k int, seed int64) ([][]int, error) {
	p, err := PlanHoldout(datasetSize, k, seed, 0)
	if err != nil {
		return nil, err
	}
	return p.Folds, nil
}

// PlanHoldout is Plan with a fixed held-out test fraction: the first
// floor(datasetSize*holdout) entries of the seeded permutation are reserved
// as a test set shared by every fold, and the folds partition the remainder.
// holdout must lie in [0, 1); the foldable remainder must still admit k folds.
func PlanHoldout(datasetSize, k int, seed int64, holdout float64) (*Partition, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", run.ErrInvalidPartition, k)
	}
	if holdout < 0 || holdout >= 1 {
		return nil, fmt.Errorf("%w: holdout fraction %v outside [0, 1)", run.ErrInvalidPartition, holdout)
	}

	reserved := int(float64(datasetSize) * holdout)
	foldable := datasetSize - reserved
	if k > foldable {
		return nil, fmt.Errorf("%w: %d folds exceed %d foldable samples", run.ErrInvalidPartition, k, foldable)
	}

	// Seeded local RNG only; no global randomness.
	perm := rand.New(rand.NewSource(seed)).Perm(datasetSize)

	p := &Partition{
		Holdout: perm[:reserved],
		Folds:   make([][]int, k),
	}

	rest := perm[reserved:]
	base := foldable / k
	extra := foldable % k
	offset := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		p.Folds[i] = rest[offset : offset+size]
		offset += size
	}

	return p, nil
}

// Train returns the training index set for fold i: every foldable index not
// in fold i's validation set, in fold order.
func (p *Partition) Train(i int) []int {
	var train []int
	for j, fold := range p.Folds {
		if j == i {
			continue
		}
		train = append(train, fold...)
	}
	return train
}
