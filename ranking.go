// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"fmt"
	"math"
	"sort"
)

// SNPRanking pairs variant labels with importance scores. An unranked
// instance keeps aggregation order; Rank returns a ranked copy.
type SNPRanking struct {
	Labels      []VariantLabel
	Importances []float64
	Ranked      bool
}

func (r SNPRanking) Len() int {
	return len(r.Labels)
}

// Rank returns a copy sorted by descending importance, with ties
// broken by descending label. Zero and NaN importances are dropped.
// Ranking an already ranked instance returns it unchanged.
func (r SNPRanking) Rank() SNPRanking {
	if r.Ranked {
		return r
	}
	order := make([]int, 0, len(r.Labels))
	for i, imp := range r.Importances {
		if imp != 0 && !math.IsNaN(imp) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if r.Importances[a] != r.Importances[b] {
			return r.Importances[a] > r.Importances[b]
		}
		return r.Labels[b].Less(r.Labels[a])
	})
	ranked := SNPRanking{
		Labels:      make([]VariantLabel, len(order)),
		Importances: make([]float64, len(order)),
		Ranked:      true,
	}
	for i, idx := range order {
		ranked.Labels[i] = r.Labels[idx]
		ranked.Importances[i] = r.Importances[idx]
	}
	return ranked
}

// Take returns the first n entries of the ranked order, or all of
// them if there are fewer than n.
func (r SNPRanking) Take(n int) SNPRanking {
	return r.Slice(0, n)
}

// Slice returns ranked entries [start, end), clamped to the available
// range.
func (r SNPRanking) Slice(start, end int) SNPRanking {
	r = r.Rank()
	if end > len(r.Labels) {
		end = len(r.Labels)
	} else if end < 0 {
		end = 0
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	return SNPRanking{
		Labels:      r.Labels[start:end],
		Importances: r.Importances[start:end],
		Ranked:      true,
	}
}

// CountIntersection returns the number of labels present in both
// rankings. Importances are ignored.
func (r SNPRanking) CountIntersection(other SNPRanking) int {
	set := make(map[VariantLabel]struct{}, len(r.Labels))
	for _, l := range r.Labels {
		set[l] = struct{}{}
	}
	n := 0
	for _, l := range other.Labels {
		if _, ok := set[l]; ok {
			n++
		}
	}
	return n
}

// AggregateImportances reduces per-column importances to per-variant
// scores: the mean absolute importance over the columns recorded for
// each variant in idx.
func AggregateImportances(importances []float64, idx *FeatureIndex) (SNPRanking, error) {
	if len(importances) != idx.NumColumns() {
		return SNPRanking{}, fmt.Errorf("%d importances for %d feature columns", len(importances), idx.NumColumns())
	}
	variants := idx.Variants()
	ranking := SNPRanking{
		Labels:      make([]VariantLabel, len(variants)),
		Importances: make([]float64, len(variants)),
	}
	for i, v := range variants {
		cols := idx.Columns(v)
		sum := 0.0
		for _, col := range cols {
			sum += math.Abs(importances[col])
		}
		ranking.Labels[i] = v
		ranking.Importances[i] = sum / float64(len(cols))
	}
	return ranking, nil
}
