// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ensemble trains Models independent estimators on resampled rows and
// averages the absolute values of their feature importances.
type Ensemble struct {
	New  EstimatorFactory
	Name string
	// Number of estimators.
	Models int
	// Estimators trained per batch. Each batch keeps its own
	// importance sum; sums are combined in batch order.
	BatchSize int
	// Number of batches trained concurrently.
	Threads int
	// If negative, each estimator sees a bootstrap sample of all
	// rows. Otherwise it sees every row once plus Resamples rows
	// drawn with replacement.
	Resamples int
	Seed      uint64

	// Mean accuracy of Classifier members on the rows left out of
	// their resample, set by FeatureImportances. NaN if no member
	// had out-of-bag rows.
	OutOfBagAccuracy float64
}

func (e *Ensemble) batches() [][2]int {
	size := e.BatchSize
	if size < 1 {
		size = e.Models
	}
	var out [][2]int
	for start := 0; start < e.Models; start += size {
		end := start + size
		if end > e.Models {
			end = e.Models
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func resampleRows(rnd *rand.Rand, n, resamples int) []int {
	var rows []int
	if resamples < 0 {
		rows = make([]int, n)
		for i := range rows {
			rows[i] = rnd.Intn(n)
		}
		return rows
	}
	rows = make([]int, n, n+resamples)
	for i := range rows {
		rows[i] = i
	}
	for i := 0; i < resamples; i++ {
		rows = append(rows, rnd.Intn(n))
	}
	return rows
}

// outOfBag returns the rows in [0, n) that do not appear in sample.
func outOfBag(n int, sample []int) []int {
	seen := make([]bool, n)
	for _, r := range sample {
		seen[r] = true
	}
	var oob []int
	for r, ok := range seen {
		if !ok {
			oob = append(oob, r)
		}
	}
	return oob
}

// accuracy returns the fraction of probabilities on the correct side
// of 0.5.
func accuracy(p []float64, y []bool) float64 {
	correct := 0
	for i, pi := range p {
		if (pi >= 0.5) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(p))
}

func selectRows(x *mat.Dense, y []bool, rows []int) (*mat.Dense, []bool) {
	_, cols := x.Dims()
	xs := mat.NewDense(len(rows), cols, nil)
	ys := make([]bool, len(rows))
	for i, r := range rows {
		xs.SetRow(i, x.RawRowView(r))
		ys[i] = y[r]
	}
	return xs, ys
}

// FeatureImportances trains the ensemble and returns one importance
// per column of x.
func (e *Ensemble) FeatureImportances(x *mat.Dense, y []bool) ([]float64, error) {
	rows, cols := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("%d outcomes for %d rows", len(y), rows)
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("cannot train on empty %d x %d matrix", rows, cols)
	}
	if e.Models < 1 {
		return nil, fmt.Errorf("ensemble size %d < 1", e.Models)
	}
	master := rand.New(rand.NewSource(e.Seed))
	seeds := make([]uint64, e.Models)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	batches := e.batches()
	sums := make([][]float64, len(batches))
	oobAcc := make([]float64, len(batches))
	oobModels := make([]int, len(batches))
	thr := throttle{Max: e.Threads}
	for b, batch := range batches {
		b, batch := b, batch
		thr.Go(func() error {
			sum := make([]float64, cols)
			for m := batch[0]; m < batch[1]; m++ {
				rnd := rand.New(rand.NewSource(seeds[m]))
				sample := resampleRows(rnd, rows, e.Resamples)
				xs, ys := selectRows(x, y, sample)
				est := e.New(rnd)
				err := est.Fit(xs, ys)
				if err != nil {
					return fmt.Errorf("model %d: %w", m, err)
				}
				if cl, ok := est.(Classifier); ok {
					if oob := outOfBag(rows, sample); len(oob) > 0 {
						xo, yo := selectRows(x, y, oob)
						p, err := cl.PredictProba(xo)
						if err != nil {
							return fmt.Errorf("model %d: %w", m, err)
						}
						acc := accuracy(p, yo)
						log.Debugf("ensemble: model %d out-of-bag accuracy %.3f (%d rows)", m, acc, len(oob))
						oobAcc[b] += acc
						oobModels[b]++
					}
				}
				imp := est.FeatureImportances()
				if len(imp) != cols {
					return fmt.Errorf("model %d: %d importances for %d columns", m, len(imp), cols)
				}
				for j, v := range imp {
					sum[j] += math.Abs(v)
				}
				metricModelsTrained.WithLabelValues(e.Name).Inc()
			}
			sums[b] = sum
			log.Debugf("ensemble: batch %d done (models %d-%d)", b, batch[0], batch[1]-1)
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	total := make([]float64, cols)
	for _, sum := range sums {
		floats.Add(total, sum)
	}
	floats.Scale(1/float64(e.Models), total)
	log.Infof("ensemble: trained %d %s models in %d batches", e.Models, e.Name, len(batches))

	n := 0
	for _, k := range oobModels {
		n += k
	}
	e.OutOfBagAccuracy = math.NaN()
	if n > 0 {
		e.OutOfBagAccuracy = floats.Sum(oobAcc) / float64(n)
		log.Infof("ensemble: mean out-of-bag accuracy %.3f over %d models", e.OutOfBagAccuracy, n)
	}
	return total, nil
}
