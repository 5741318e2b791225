// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"math"

	"gopkg.in/check.v1"
)

type rankingSuite struct{}

var _ = check.Suite(&rankingSuite{})

func labels(positions ...int) []VariantLabel {
	out := make([]VariantLabel, len(positions))
	for i, pos := range positions {
		out[i] = VariantLabel{"1", pos}
	}
	return out
}

func (s *rankingSuite) TestScenario(c *check.C) {
	r1 := SNPRanking{Labels: labels(1, 2, 3), Importances: []float64{0.5, 0.75, 0}}
	r2 := SNPRanking{Labels: labels(2, 4), Importances: []float64{0.9, 0.1}}
	ranked := r1.Rank()
	c.Check(ranked.Labels, check.DeepEquals, labels(2, 1))
	c.Check(ranked.Importances, check.DeepEquals, []float64{0.75, 0.5})
	c.Check(ranked.Ranked, check.Equals, true)
	c.Check(r1.Take(1).CountIntersection(r2.Take(1)), check.Equals, 1)
	// original is unchanged
	c.Check(r1.Labels, check.DeepEquals, labels(1, 2, 3))
	c.Check(r1.Ranked, check.Equals, false)
}

func (s *rankingSuite) TestRankIdempotent(c *check.C) {
	r := SNPRanking{Labels: labels(5, 3, 9, 1), Importances: []float64{0.2, 0.9, 0.2, 0.4}}
	once := r.Rank()
	twice := once.Rank()
	c.Check(twice, check.DeepEquals, once)
}

func (s *rankingSuite) TestRankTies(c *check.C) {
	r := SNPRanking{
		Labels:      []VariantLabel{{"1", 5}, {"2", 1}, {"1", 7}, {"1", 6}},
		Importances: []float64{0.5, 0.5, 0.5, 0.8},
	}
	ranked := r.Rank()
	c.Check(ranked.Labels, check.DeepEquals, []VariantLabel{{"1", 6}, {"2", 1}, {"1", 7}, {"1", 5}})
}

func (s *rankingSuite) TestRankDropsNaN(c *check.C) {
	r := SNPRanking{Labels: labels(1, 2, 3), Importances: []float64{math.NaN(), 0.1, 0}}
	c.Check(r.Rank().Labels, check.DeepEquals, labels(2))
}

func (s *rankingSuite) TestTakeSlice(c *check.C) {
	r := SNPRanking{Labels: labels(1, 2, 3), Importances: []float64{0.3, 0.2, 0.1}}
	c.Check(r.Take(10).Len(), check.Equals, 3)
	c.Check(r.Take(0).Len(), check.Equals, 0)
	c.Check(r.Take(-1).Len(), check.Equals, 0)
	c.Check(r.Take(2).Labels, check.DeepEquals, labels(1, 2))
	c.Check(r.Slice(1, 3).Labels, check.DeepEquals, labels(2, 3))
	c.Check(r.Slice(-2, 1).Labels, check.DeepEquals, labels(1))
	c.Check(r.Slice(2, 1).Len(), check.Equals, 0)
	c.Check(r.Slice(5, 8).Len(), check.Equals, 0)
}

func (s *rankingSuite) TestCountIntersection(c *check.C) {
	a := SNPRanking{Labels: labels(1, 2, 3, 4), Importances: []float64{1, 1, 1, 1}}
	b := SNPRanking{Labels: labels(3, 4, 5), Importances: []float64{0.1, 0.2, 0.3}}
	c.Check(a.CountIntersection(b), check.Equals, 2)
	c.Check(b.CountIntersection(a), check.Equals, 2)
	c.Check(a.CountIntersection(SNPRanking{}), check.Equals, 0)
	c.Check(a.CountIntersection(a), check.Equals, 4)
}

func (s *rankingSuite) TestAggregate(c *check.C) {
	idx := newFeatureIndex(false)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 10}, Qualifier: Qualifier{Token: "A"}}, 0)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 10}, Qualifier: Qualifier{Token: "T"}}, 1)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 20}, Qualifier: Qualifier{Token: "G"}}, 2)
	ranking, err := AggregateImportances([]float64{-0.2, 0.6, 0.3}, idx)
	c.Assert(err, check.IsNil)
	c.Check(ranking.Ranked, check.Equals, false)
	c.Check(ranking.Labels, check.DeepEquals, labels(10, 20))
	c.Check(math.Abs(ranking.Importances[0]-0.4) < 1e-12, check.Equals, true)
	c.Check(ranking.Importances[1], check.Equals, 0.3)

	_, err = AggregateImportances([]float64{1, 2}, idx)
	c.Check(err, check.NotNil)
}

func (s *rankingSuite) TestAggregateCompressed(c *check.C) {
	// two variants share column 0
	idx := newFeatureIndex(true)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 10}, Qualifier: Qualifier{Token: "A"}}, 0)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 10}, Qualifier: Qualifier{Token: "T"}}, 1)
	idx.add(FeatureLabel{VariantLabel: VariantLabel{"1", 20}, Qualifier: Qualifier{Token: "A"}}, 0)
	ranking, err := AggregateImportances([]float64{0.5, -1.5}, idx)
	c.Assert(err, check.IsNil)
	c.Check(ranking.Importances, check.DeepEquals, []float64{1, 0.5})
}
