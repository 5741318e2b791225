// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

const pipelineVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\ts1\ts2\ts3\ts4\ts5\ts6\ts7\ts8\n" +
	"1\t100\t.\tA\tT\t.\tPASS\t.\tGT\t0/0\t0/0\t0/1\t0/0\t1/1\t0/1\t1/1\t1/1\n" +
	"1\t200\t.\tC\tG\t.\tPASS\t.\tGT\t0/1\t0/0\t1/1\t0/1\t0/0\t0/1\t1/1\t0/0\n" +
	"1\t300\t.\tG\tA\t.\tPASS\t.\tGT\t0/0\t0/1\t0/0\t0/0\t0/1\t0/0\t0/0\t0/1\n" +
	"2\t50\t.\tT\tC\t.\tPASS\t.\tGT\t./.\t0/1\t1/1\t0/0\t0/1\t0/0\t1/1\t0/1\n" +
	"2\t60\t.\tT\tC\t.\tPASS\t.\tGT\t0/0\t0/0\t0/0\t0/0\t0/0\t0/0\t0/0\t0/0\n" +
	"2\t80\t.\tA\tG\t.\tPASS\t.\tGT\t0/0\t0/0\t0/0\t0/0\t0/0\t0/0\t0/0\t0/1\n"

func writePipelineInputs(c *check.C) (dir, vcf, pops string) {
	dir = c.MkDir()
	vcf = filepath.Join(dir, "input.vcf")
	pops = filepath.Join(dir, "populations.csv")
	c.Assert(os.WriteFile(vcf, []byte(pipelineVCF), 0666), check.IsNil)
	c.Assert(os.WriteFile(pops, []byte("controls,s1,s2,s3,s4\ncases,s5,s6,s7,s8\n"), 0666), check.IsNil)
	return
}

func (s *pipelineSuite) TestImportTrainAnalyze(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")

	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-maf=0.1"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	w := Workdir{Dir: workdir, Layout: DefaultLayout}
	summary, err := loadProjectSummary(w.ProjectSummaryPath())
	c.Assert(err, check.IsNil)
	c.Check(summary.OriginalPositions, check.Equals, 6)
	c.Check(summary.FilteredPositions, check.Equals, 4)
	c.Check(summary.Features, check.Equals, 12)
	c.Check(summary.Samples, check.Equals, 8)
	c.Check(summary.FeatureEncoding, check.Equals, "categories")
	c.Check(summary.PopulationNames, check.DeepEquals, []string{"controls", "cases"})
	x, err := readNumpyFloat64(w.FeatureMatrixPath())
	c.Assert(err, check.IsNil)
	rows, cols := x.Dims()
	c.Check(rows, check.Equals, 8)
	c.Check(cols, check.Equals, 12)
	idx, err := loadFeatureIndex(w.FeatureIndexPath())
	c.Assert(err, check.IsNil)
	c.Check(idx.NumVariants(), check.Equals, 4)

	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, "-estimator=chi2", "-model-sizes=2,4", "-replicates=2", "-batch-size=1", "-threads=2"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	for _, size := range []int{2, 4} {
		for rep := 1; rep <= 2; rep++ {
			rf, err := loadRanking(w.RankingPath(size, rep))
			c.Assert(err, check.IsNil)
			c.Check(rf.ModelSize, check.Equals, size)
			c.Check(rf.Replicate, check.Equals, rep)
			c.Check(rf.Ranking.Len(), check.Equals, 4)
		}
	}

	stdout := &bytes.Buffer{}
	code = (&analyzeRankings{}).RunCommand("asaph analyze-rankings", []string{"-workdir=" + workdir, "-thresholds=0.01,0.5"}, bytes.NewReader(nil), stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, w.AnalysisPath("snp_ranking_overlaps.tsv")+"\n"+w.AnalysisPath("sampled_snp_counts.tsv")+"\n")
	buf, err := os.ReadFile(w.AnalysisPath("snp_ranking_overlaps.tsv"))
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "model_size\t0.01\t0.5")
	c.Check(strings.HasPrefix(lines[1], "2\t"), check.Equals, true)
	c.Check(strings.HasPrefix(lines[2], "4\t"), check.Equals, true)
	buf, err = os.ReadFile(w.AnalysisPath("sampled_snp_counts.tsv"))
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(string(buf), "model_size\tcommon\treplicate1\treplicate2\n"), check.Equals, true)

	code = (&analyzeRankings{}).RunCommand("asaph analyze-rankings", []string{"-workdir=" + workdir, "-model-sizes=3"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)

	stdout = &bytes.Buffer{}
	code = (&outputRankings{}).RunCommand("asaph output-rankings", []string{"-workdir=" + workdir, "-model-size=4", "-replicate=2"}, bytes.NewReader(nil), stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(strings.HasPrefix(stdout.String(), "chromosome\tposition\timportance\n"), check.Equals, true)
	c.Logf("%s", stdout.String())

	code = (&outputRankings{}).RunCommand("asaph output-rankings", []string{"-workdir=" + workdir, "-model-size=4", "-replicate=3"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)

	code = (&pcaCommand{}).RunCommand("asaph pca", []string{"-workdir=" + workdir, "-components=2"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	pcs, err := readNumpyFloat64(w.PCAPath())
	c.Assert(err, check.IsNil)
	rows, cols = pcs.Dims()
	c.Check(rows, check.Equals, 8)
	c.Check(cols, check.Equals, 2)
}

func (s *pipelineSuite) TestCustomLayout(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	layoutFile := filepath.Join(dir, "layout.yaml")
	c.Assert(os.WriteFile(layoutFile, []byte("featureMatrix: x.npy\nsamples: rows.csv\nfeatureIndex: cols.sqlite\nprojectSummary: summary.yaml\nmodels: rankings\nanalysis: results\n"), 0666), check.IsNil)
	layoutArg := "-layout=" + layoutFile

	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, layoutArg, "-vcf=" + vcf, "-populations=" + pops, "-maf=0.1"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, layoutArg, "-estimator=chi2", "-model-sizes=2"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	code = (&analyzeRankings{}).RunCommand("asaph analyze-rankings", []string{"-workdir=" + workdir, layoutArg}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	for _, fnm := range []string{"x.npy", "rows.csv", "cols.sqlite", "summary.yaml", "rankings/2/model1.gob.gz", "rankings/2/model2.gob.gz", "results/snp_ranking_overlaps.tsv"} {
		_, err := os.Stat(filepath.Join(workdir, fnm))
		c.Check(err, check.IsNil)
	}
	for _, fnm := range []string{"feature_matrix.npy", "samples.csv", "models", "analysis"} {
		_, err := os.Stat(filepath.Join(workdir, fnm))
		c.Check(os.IsNotExist(err), check.Equals, true, check.Commentf("%s", fnm))
	}

	// without -layout, the default file names are not there
	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, "-estimator=chi2", "-model-sizes=2"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)
}

func (s *pipelineSuite) TestNothingRetained(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	stderr := &bytes.Buffer{}
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-maf=0.6"}, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*no variants retained after filtering \(read 6\).*`)
	_, err := os.Stat(filepath.Join(workdir, DefaultLayout.FeatureMatrix))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *pipelineSuite) TestTrainBatches(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-encoding=counts", "-sampling=bottom-k", "-features=5", "-compress"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	// two batches together produce the same rankings as one run
	w := Workdir{Dir: workdir, Layout: DefaultLayout}
	split := filepath.Join(dir, "split")
	for batch := 0; batch < 2; batch++ {
		code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, "-output-dir=" + split, "-estimator=logistic", "-model-sizes=3", "-replicates=2", "-batches=2", "-batch=" + []string{"0", "1"}[batch]}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
		c.Assert(code, check.Equals, 0)
	}
	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, "-estimator=logistic", "-model-sizes=3", "-replicates=2"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	for rep := 1; rep <= 2; rep++ {
		whole, err := loadRanking(w.RankingPath(3, rep))
		c.Assert(err, check.IsNil)
		part, err := loadRanking(Workdir{Dir: split, Layout: DefaultLayout}.RankingPath(3, rep))
		c.Assert(err, check.IsNil)
		c.Check(part, check.DeepEquals, whole)
	}
}

func (s *pipelineSuite) TestProjectedMatrixNotTrainable(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-sampling=hashing", "-features=6", "-project-dimensions=3"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	w := Workdir{Dir: workdir, Layout: DefaultLayout}
	x, err := readNumpyFloat64(w.FeatureMatrixPath())
	c.Assert(err, check.IsNil)
	_, cols := x.Dims()
	c.Check(cols, check.Equals, 3)

	stderr := &bytes.Buffer{}
	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-workdir=" + workdir, "-estimator=chi2", "-model-sizes=2"}, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*randomly projected.*`)
}

func (s *pipelineSuite) TestUsage(c *check.C) {
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-bogus"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 2)
	code = (&importer{}).RunCommand("asaph import", []string{"-local=true"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)
	code = (&trainer{}).RunCommand("asaph train", []string{"-local=true", "-estimator=forest"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)
}

func (s *pipelineSuite) TestCaseLabels(c *check.C) {
	samples := []Sample{{"a", 0}, {"b", 1}, {"c", 2}}
	y, err := caseLabels(samples[:2], []string{"controls", "cases"}, "")
	c.Check(err, check.IsNil)
	c.Check(y, check.DeepEquals, []bool{false, true})
	_, err = caseLabels(samples, []string{"x", "y", "z"}, "")
	c.Check(err, check.NotNil)
	y, err = caseLabels(samples, []string{"x", "y", "z"}, "z")
	c.Check(err, check.IsNil)
	c.Check(y, check.DeepEquals, []bool{false, false, true})
	_, err = caseLabels(samples, []string{"x", "y", "z"}, "w")
	c.Check(err, check.NotNil)
	_, err = caseLabels([]Sample{{"d", -1}}, []string{"x", "y"}, "")
	c.Check(err, check.ErrorMatches, `sample d has no population`)
}

func (s *pipelineSuite) TestBatchRange(c *check.C) {
	for _, trial := range []struct {
		batches, batch, n int
		start, end        int
	}{
		{1, -1, 10, 0, 10},
		{3, -1, 10, 0, 10},
		{3, 0, 10, 0, 4},
		{3, 1, 10, 4, 8},
		{3, 2, 10, 8, 10},
		{4, 3, 2, 2, 2},
	} {
		b := batchArgs{batches: trial.batches, batch: trial.batch}
		start, end := b.Range(trial.n)
		c.Check([2]int{start, end}, check.Equals, [2]int{trial.start, trial.end}, check.Commentf("%+v", trial))
	}
}

func readTSVLines(c *check.C, fnm string) [][]string {
	buf, err := os.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	var lines [][]string
	for _, line := range strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n") {
		lines = append(lines, strings.Split(line, "\t"))
	}
	return lines
}

func (s *pipelineSuite) TestAssociations(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-maf=0.1"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	w := Workdir{Dir: workdir, Layout: DefaultLayout}

	stdout := &bytes.Buffer{}
	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir}, bytes.NewReader(nil), stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	fnm := w.StatisticsPath("snp_population_associations.tsv")
	c.Check(stdout.String(), check.Equals, fnm+"\n")
	lines := readTSVLines(c, fnm)
	c.Assert(lines, check.HasLen, 5)
	c.Check(lines[0], check.DeepEquals, []string{"chromosome", "position", "cramers_v", "pvalue"})
	c.Check(lines[1][:2], check.DeepEquals, []string{"1", "100"})
	for _, line := range lines[1:] {
		c.Check(line, check.HasLen, 4)
	}

	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=pairwise"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	lines = readTSVLines(c, w.StatisticsPath("snp_pairwise_associations.tsv"))
	c.Check(lines, check.HasLen, 7)
	c.Check(lines[1][:4], check.DeepEquals, []string{"1", "100", "1", "200"})

	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=pairwise", "-pairs=2"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	lines = readTSVLines(c, w.StatisticsPath("snp_pairwise_associations.tsv"))
	c.Check(lines, check.HasLen, 3)

	stdout = &bytes.Buffer{}
	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=pairwise-single", "-chromosome=1", "-position=100"}, bytes.NewReader(nil), stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	fnm = w.StatisticsPath("snp_associations_1_100.tsv")
	c.Check(stdout.String(), check.Equals, fnm+"\n")
	lines = readTSVLines(c, fnm)
	c.Assert(lines, check.HasLen, 4)
	c.Check(lines[0], check.DeepEquals, []string{"chromosome", "position", "cramers_v"})
	for _, line := range lines[1:] {
		c.Check(line[:2], check.Not(check.DeepEquals), []string{"1", "100"})
	}

	stderr := &bytes.Buffer{}
	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=pairwise-single", "-chromosome=3", "-position=1"}, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `unknown variant .*\n`)

	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=bogus"}, bytes.NewReader(nil), &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)
}

func (s *pipelineSuite) TestAssociationsCounts(c *check.C) {
	dir, vcf, pops := writePipelineInputs(c)
	workdir := filepath.Join(dir, "work")
	code := (&importer{}).RunCommand("asaph import", []string{"-local=true", "-workdir=" + workdir, "-vcf=" + vcf, "-populations=" + pops, "-maf=0.1", "-encoding=counts"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	w := Workdir{Dir: workdir, Layout: DefaultLayout}

	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=populations"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(readTSVLines(c, w.StatisticsPath("snp_population_associations.tsv")), check.HasLen, 5)

	stderr := &bytes.Buffer{}
	code = (&associations{}).RunCommand("asaph associations", []string{"-workdir=" + workdir, "-mode=pairwise"}, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `pairwise mode requires the categories feature encoding.*\n`)
}
