// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"errors"

	"gopkg.in/check.v1"
)

type stabilitySuite struct{}

var _ = check.Suite(&stabilitySuite{})

func testModels() map[int][]SNPRanking {
	same := SNPRanking{Labels: labels(1, 2, 3, 4), Importances: []float64{4, 3, 2, 1}}
	return map[int][]SNPRanking{
		10: {
			same,
			{Labels: labels(1, 2, 3, 4), Importances: []float64{1, 4, 3, 2}},
		},
		20: {same, same},
		30: {same},
	}
}

func (s *stabilitySuite) TestSimilarityCurves(c *check.C) {
	sa := StabilityAnalyzer{Thresholds: []float64{0.01, 0.5, 1}}
	sizes, curves := sa.SimilarityCurves(testModels())
	c.Check(sizes, check.DeepEquals, []int{10, 20})
	c.Assert(curves, check.HasLen, 3)
	c.Check(curves[0], check.DeepEquals, StabilityCurve{Threshold: 0.01, Overlaps: []float64{0, 100}})
	c.Check(curves[1], check.DeepEquals, StabilityCurve{Threshold: 0.5, Overlaps: []float64{50, 100}})
	c.Check(curves[2], check.DeepEquals, StabilityCurve{Threshold: 1, Overlaps: []float64{100, 100}})
}

func (s *stabilitySuite) TestUniverse(c *check.C) {
	// cutoff 5 exceeds both ranking lengths
	sa := StabilityAnalyzer{Thresholds: []float64{0.5}, Universe: 10}
	_, curves := sa.SimilarityCurves(testModels())
	c.Check(curves[0].Overlaps, check.DeepEquals, []float64{80, 80})
}

func (s *stabilitySuite) TestNoPairs(c *check.C) {
	sa := StabilityAnalyzer{Thresholds: []float64{0.1}}
	sizes, curves := sa.SimilarityCurves(map[int][]SNPRanking{5: {{}}, 6: {{}, {}, {}}})
	c.Check(sizes, check.HasLen, 0)
	c.Check(curves[0].Overlaps, check.HasLen, 0)
}

func (s *stabilitySuite) TestOverlap(c *check.C) {
	r1 := SNPRanking{Labels: labels(1, 2, 3), Importances: []float64{3, 2, 1}}
	r2 := SNPRanking{Labels: labels(3, 2, 1), Importances: []float64{3, 2, 1}}
	c.Check(Overlap(r1, r2, 1), check.Equals, 0.0)
	c.Check(Overlap(r1, r2, 2), check.Equals, 50.0)
	c.Check(Overlap(r1, r2, 3), check.Equals, 100.0)
	c.Check(Overlap(r1, r2, 2), check.Equals, Overlap(r2, r1, 2))
}

func (s *stabilitySuite) TestSampledSNPCounts(c *check.C) {
	counts := SampledSNPCounts(map[int][]SNPRanking{
		10: {
			{Labels: labels(1, 2, 3), Importances: []float64{1, 0, 2}},
			{Labels: labels(1, 2, 3), Importances: []float64{0, 1, 1}},
		},
		1: {{}},
	})
	c.Check(counts, check.DeepEquals, []SampledCounts{{ModelSize: 10, Common: 1, Replicate: [2]int{2, 2}}})
}

func (s *stabilitySuite) TestSelectModelSizes(c *check.C) {
	models := testModels()
	sel, err := SelectModelSizes(models, []int{20, 10})
	c.Check(err, check.IsNil)
	c.Check(sel, check.HasLen, 2)
	c.Check(sel[20], check.HasLen, 2)

	_, err = SelectModelSizes(models, []int{10, 40})
	c.Check(errors.Is(err, ErrModelSizeNotFound), check.Equals, true)
	c.Check(err, check.ErrorMatches, `no rankings for model size 40`)
}
