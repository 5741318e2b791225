// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
)

var ErrModelSizeNotFound = errors.New("no rankings for model size")

// StabilityCurve holds, for one top-k threshold, the overlap
// percentage between two replicates at each model size.
type StabilityCurve struct {
	Threshold float64
	Overlaps  []float64
}

// StabilityAnalyzer compares pairs of replicate rankings.
type StabilityAnalyzer struct {
	// Fractions of the universe to use as top-k cutoffs.
	Thresholds []float64
	// Number of candidate SNPs. If zero, the shorter ranking length
	// of each pair is used.
	Universe int
}

// pairedSizes returns the sorted model sizes that have exactly two
// replicates, warning about the rest.
func pairedSizes(models map[int][]SNPRanking) []int {
	var sizes []int
	for size, reps := range models {
		if len(reps) != 2 {
			log.Warnf("model size %d has %d replicates (need 2), skipping", size, len(reps))
			continue
		}
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

func (sa *StabilityAnalyzer) cutoff(threshold float64, r1, r2 SNPRanking) int {
	universe := sa.Universe
	if universe <= 0 {
		universe = r1.Len()
		if r2.Len() < universe {
			universe = r2.Len()
		}
	}
	cutoff := int(math.Floor(threshold * float64(universe)))
	if cutoff < 1 {
		cutoff = 1
	}
	return cutoff
}

// Overlap returns the percentage of the top cutoff SNPs shared by r1
// and r2.
func Overlap(r1, r2 SNPRanking, cutoff int) float64 {
	return 100 * float64(r1.Take(cutoff).CountIntersection(r2.Take(cutoff))) / float64(cutoff)
}

// SimilarityCurves returns the model sizes compared and one curve per
// threshold, with one overlap value per model size.
func (sa *StabilityAnalyzer) SimilarityCurves(models map[int][]SNPRanking) ([]int, []StabilityCurve) {
	sizes := pairedSizes(models)
	ranked := make(map[int][2]SNPRanking, len(sizes))
	for _, size := range sizes {
		ranked[size] = [2]SNPRanking{models[size][0].Rank(), models[size][1].Rank()}
	}
	curves := make([]StabilityCurve, len(sa.Thresholds))
	for i, t := range sa.Thresholds {
		curves[i] = StabilityCurve{Threshold: t, Overlaps: make([]float64, len(sizes))}
		for j, size := range sizes {
			r := ranked[size]
			curves[i].Overlaps[j] = Overlap(r[0], r[1], sa.cutoff(t, r[0], r[1]))
		}
	}
	return sizes, curves
}

// SampledCounts is the number of SNPs with non-zero importance in each
// replicate at one model size, and in both.
type SampledCounts struct {
	ModelSize int
	Common    int
	Replicate [2]int
}

// SampledSNPCounts reports, per model size, how many SNPs each
// replicate ranked at all.
func SampledSNPCounts(models map[int][]SNPRanking) []SampledCounts {
	var out []SampledCounts
	for _, size := range pairedSizes(models) {
		r1, r2 := models[size][0].Rank(), models[size][1].Rank()
		out = append(out, SampledCounts{
			ModelSize: size,
			Common:    r1.CountIntersection(r2),
			Replicate: [2]int{r1.Len(), r2.Len()},
		})
	}
	return out
}

// SelectModelSizes returns the subset of models with the given sizes.
// Every requested size must be present.
func SelectModelSizes(models map[int][]SNPRanking, sizes []int) (map[int][]SNPRanking, error) {
	out := make(map[int][]SNPRanking, len(sizes))
	for _, size := range sizes {
		reps, ok := models[size]
		if !ok {
			return nil, fmt.Errorf("%w %d", ErrModelSizeNotFound, size)
		}
		out[size] = reps
	}
	return out, nil
}
