// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type storageSuite struct{}

var _ = check.Suite(&storageSuite{})

func (s *storageSuite) TestNumpy(c *check.C) {
	fnm := c.MkDir() + "/x.npy"
	x := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6.5})
	c.Assert(writeNumpyFloat64(fnm, x), check.IsNil)
	y, err := readNumpyFloat64(fnm)
	c.Assert(err, check.IsNil)
	c.Check(mat.Equal(x, y), check.Equals, true)
}

func (s *storageSuite) TestSamples(c *check.C) {
	fnm := c.MkDir() + "/samples.csv"
	samples := []Sample{{"s1", 0}, {"s2", 1}, {"s3", -1}}
	c.Assert(writeSamples(fnm, samples, []string{"controls", "cases"}), check.IsNil)
	buf, err := os.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "Index,SampleID,Population,Label\n0,s1,controls,0\n1,s2,cases,1\n2,s3,,-1\n")
	loaded, err := loadSamples(fnm)
	c.Assert(err, check.IsNil)
	c.Check(loaded, check.DeepEquals, samples)

	c.Assert(os.WriteFile(fnm, []byte("Index,SampleID,Population,Label\n1,s1,a,0\n"), 0666), check.IsNil)
	_, err = loadSamples(fnm)
	c.Check(err, check.ErrorMatches, `.*index 1 out of order`)
}

func (s *storageSuite) TestProjectSummary(c *check.C) {
	fnm := c.MkDir() + "/summary.yaml"
	ps := ProjectSummary{
		OriginalPositions: 10,
		FilteredPositions: 7,
		Features:          21,
		FeatureEncoding:   "categories",
		Sampling:          "full",
		Samples:           4,
		PopulationNames:   []string{"controls", "cases"},
	}
	c.Assert(writeProjectSummary(fnm, ps), check.IsNil)
	loaded, err := loadProjectSummary(fnm)
	c.Assert(err, check.IsNil)
	c.Check(loaded, check.DeepEquals, ps)
}

func (s *storageSuite) TestRankings(c *check.C) {
	w := Workdir{Dir: c.MkDir(), Layout: DefaultLayout}
	r := SNPRanking{Labels: labels(3, 1), Importances: []float64{0.5, 0.25}}
	for _, size := range []int{10, 100} {
		for rep := 2; rep >= 1; rep-- {
			rf := rankingFile{ModelSize: size, Replicate: rep, Estimator: "chi2", Ranking: r}
			rf.Ranking.Importances = []float64{float64(rep), float64(size)}
			c.Assert(writeRanking(w.RankingPath(size, rep), rf), check.IsNil)
		}
	}
	c.Check(w.RankingPath(10, 2), check.Equals, filepath.Join(w.Dir, "models", "10", "model2.gob.gz"))
	rf, err := loadRanking(w.RankingPath(100, 1))
	c.Assert(err, check.IsNil)
	c.Check(rf.Estimator, check.Equals, "chi2")
	c.Check(rf.Ranking.Labels, check.DeepEquals, labels(3, 1))

	// stray entries are ignored
	c.Assert(os.MkdirAll(filepath.Join(w.Dir, "models", "notasize"), 0777), check.IsNil)
	models, err := loadRankings(w)
	c.Assert(err, check.IsNil)
	c.Check(models, check.HasLen, 2)
	c.Assert(models[10], check.HasLen, 2)
	c.Check(models[10][0].Importances, check.DeepEquals, []float64{1, 10})
	c.Check(models[10][1].Importances, check.DeepEquals, []float64{2, 10})
	c.Check(models[100][1].Importances, check.DeepEquals, []float64{2, 100})
}

func (s *storageSuite) TestLayout(c *check.C) {
	layout, err := LoadLayout("")
	c.Assert(err, check.IsNil)
	c.Check(layout, check.Equals, DefaultLayout)

	fnm := c.MkDir() + "/layout.yaml"
	c.Assert(os.WriteFile(fnm, []byte("featureMatrix: matrix.npy\nmodels: rankings\n"), 0666), check.IsNil)
	layout, err = LoadLayout(fnm)
	c.Assert(err, check.IsNil)
	c.Check(layout.FeatureMatrix, check.Equals, "matrix.npy")
	c.Check(layout.Models, check.Equals, "rankings")
	c.Check(layout.Samples, check.Equals, DefaultLayout.Samples)

	w := Workdir{Dir: "/tmp/wd", Layout: layout}
	c.Check(w.FeatureMatrixPath(), check.Equals, "/tmp/wd/matrix.npy")
	c.Check(w.ModelDir(50), check.Equals, "/tmp/wd/rankings/50")
	c.Check(w.AnalysisPath("x.tsv"), check.Equals, "/tmp/wd/analysis/x.tsv")
	c.Check(w.StatisticsPath("x.tsv"), check.Equals, "/tmp/wd/statistics/x.tsv")

	_, err = LoadLayout(c.MkDir() + "/missing.yaml")
	c.Check(err, check.NotNil)
}

func (s *storageSuite) TestWorkdirArgs(c *check.C) {
	wf := workdirFlags{
		dir:    "/keep/by_id/zzzzz-4zz18-aaaaaaaaaaaaaaa/work",
		layout: "/keep/by_id/zzzzz-4zz18-bbbbbbbbbbbbbbb/layout.yaml",
	}
	runner := &arvadosContainerRunner{}
	out, err := wf.translated(runner, "")
	c.Assert(err, check.IsNil)
	c.Check(out.Args(), check.DeepEquals, []string{
		"-workdir=/mnt/zzzzz-4zz18-aaaaaaaaaaaaaaa/work",
		"-layout=/mnt/zzzzz-4zz18-bbbbbbbbbbbbbbb/layout.yaml",
	})
	c.Check(runner.Mounts, check.HasLen, 2)
	// caller's flags are unchanged
	c.Check(wf.dir, check.Equals, "/keep/by_id/zzzzz-4zz18-aaaaaaaaaaaaaaa/work")

	out, err = wf.translated(&arvadosContainerRunner{}, "/mnt/output")
	c.Assert(err, check.IsNil)
	c.Check(out.Args(), check.DeepEquals, []string{
		"-workdir=/mnt/output",
		"-layout=/mnt/zzzzz-4zz18-bbbbbbbbbbbbbbb/layout.yaml",
	})

	wf.layout = ""
	out, err = wf.translated(&arvadosContainerRunner{}, "/mnt/output")
	c.Assert(err, check.IsNil)
	c.Check(out.Args(), check.DeepEquals, []string{"-workdir=/mnt/output"})

	wf.layout = "/tmp/layout.yaml"
	_, err = wf.translated(&arvadosContainerRunner{}, "/mnt/output")
	c.Check(err, check.ErrorMatches, `cannot find uuid in path.*`)
}

type featureIndexSuite struct{}

var _ = check.Suite(&featureIndexSuite{})

func (s *featureIndexSuite) TestRoundTrip(c *check.C) {
	src := &sliceColumns{cols: []FeatureColumn{
		{Label: FeatureLabel{VariantLabel{"1", 1}, Qualifier{Kind: QualifierGenotype, Token: "A/A", Category: HomozygousRef}}, Values: []float64{1, 0}},
		{Label: FeatureLabel{VariantLabel{"1", 1}, Qualifier{Kind: QualifierGenotype, Token: "T/T", Category: HomozygousAlt}}, Values: []float64{0, 1}},
		{Label: FeatureLabel{VariantLabel{"2", 7}, Qualifier{Kind: QualifierGenotype, Token: "G/G", Category: HomozygousRef}}, Values: []float64{1, 0}},
		{Label: FeatureLabel{VariantLabel{"2", 7}, Qualifier{Kind: QualifierGenotype, Token: "G/C", Category: Heterozygous}}, Values: []float64{1, 1}},
	}}
	_, idx, err := (&FullAccumulator{Compress: true}).Transform(src, 2)
	c.Assert(err, check.IsNil)
	fnm := c.MkDir() + "/index.sqlite"
	c.Assert(writeFeatureIndex(fnm, idx), check.IsNil)
	// overwriting replaces the old index
	c.Assert(writeFeatureIndex(fnm, idx), check.IsNil)
	loaded, err := loadFeatureIndex(fnm)
	c.Assert(err, check.IsNil)
	c.Check(loaded.Compressed(), check.Equals, true)
	c.Check(loaded.NumColumns(), check.Equals, 3)
	c.Check(loaded.Variants(), check.DeepEquals, idx.Variants())
	c.Check(loaded.Columns(VariantLabel{"2", 7}), check.DeepEquals, []int{0, 2})
	c.Check(loaded.ColumnLabels(0), check.DeepEquals, idx.ColumnLabels(0))
	c.Check(loaded.entries, check.DeepEquals, idx.entries)

	_, err = loadFeatureIndex(c.MkDir() + "/missing.sqlite")
	c.Check(err, check.NotNil)
}
