// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type associations struct {
	workdir workdirFlags
}

func (cmd *associations) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *associations) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	mode := flags.String("mode", "populations", "association to compute: populations, pairwise, or pairwise-single")
	npairs := flags.Int("pairs", 0, "in pairwise mode, compute `N` randomly sampled pairs (0 = all pairs)")
	seed := flags.Uint64("random-seed", 1, "random `seed` for -pairs")
	chrom := flags.String("chromosome", "", "in pairwise-single mode, chromosome of the query variant")
	pos := flags.Int("position", 0, "in pairwise-single mode, position of the query variant")
	cmd.workdir.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	err = setLogLevel(*loglevel)
	if err != nil {
		return err
	}
	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	summary, err := loadProjectSummary(w.ProjectSummaryPath())
	if err != nil {
		return err
	}
	if summary.ProjectedDimensions > 0 {
		return errors.New("cannot compute variant associations from a randomly projected feature matrix")
	}
	if *mode != "populations" && summary.FeatureEncoding != "categories" {
		return fmt.Errorf("%s mode requires the categories feature encoding (work directory uses %s)", *mode, summary.FeatureEncoding)
	}
	idx, err := loadFeatureIndex(w.FeatureIndexPath())
	if err != nil {
		return err
	}
	x, err := readNumpyFloat64(w.FeatureMatrixPath())
	if err != nil {
		return err
	}
	if _, cols := x.Dims(); cols != idx.NumColumns() {
		return fmt.Errorf("feature matrix has %d columns but feature index has %d", cols, idx.NumColumns())
	}
	err = os.MkdirAll(filepath.Dir(w.StatisticsPath("x")), 0777)
	if err != nil {
		return err
	}

	var fnm string
	switch *mode {
	case "populations":
		var samples []Sample
		samples, err = loadSamples(w.SamplesPath())
		if err != nil {
			return err
		}
		if len(summary.PopulationNames) == 0 {
			return errors.New("no population labels in work directory (import with -populations)")
		}
		pops := make([]int, len(samples))
		for i, s := range samples {
			pops[i] = s.Population
		}
		fnm = w.StatisticsPath("snp_population_associations.tsv")
		err = writeTSV(fnm, func(bufw *bufio.Writer) {
			populationAssociations(bufw, x, idx, pops, summary.FeatureEncoding == "counts")
		})
	case "pairwise":
		var rnd *rand.Rand
		if *npairs > 0 {
			rnd = rand.New(rand.NewSource(*seed))
		}
		fnm = w.StatisticsPath("snp_pairwise_associations.tsv")
		err = writeTSV(fnm, func(bufw *bufio.Writer) {
			pairwiseAssociations(bufw, x, idx, variantPairs(idx.NumVariants(), *npairs, rnd))
		})
	case "pairwise-single":
		query := VariantLabel{Chromosome: *chrom, Position: *pos}
		if len(idx.Columns(query)) == 0 {
			return fmt.Errorf("unknown variant %s", query)
		}
		fnm = w.StatisticsPath(fmt.Sprintf("snp_associations_%s_%d.tsv", *chrom, *pos))
		err = writeTSV(fnm, func(bufw *bufio.Writer) {
			singleAssociations(bufw, x, idx, query)
		})
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, fnm)
	return nil
}

// progress logs every 2^k-th item.
type progress struct {
	next int
}

func (p *progress) log(i int, format string, args ...interface{}) {
	if i < p.next {
		return
	}
	if p.next == 0 {
		p.next = 1
	} else {
		p.next *= 2
	}
	log.Infof(format, args...)
}

func populationAssociations(w io.Writer, x mat.Matrix, idx *FeatureIndex, pops []int, counts bool) {
	fmt.Fprintln(w, "chromosome\tposition\tcramers_v\tpvalue")
	var prog progress
	for i, v := range idx.Variants() {
		cols := idx.Columns(v)
		var t *mat.Dense
		if counts {
			t = alleleTable(x, cols, pops)
		} else {
			t = crossTab(pops, genotypeCodes(x, cols), nil)
		}
		cv, p := cramersV(t)
		prog.log(i, "variant %d (%s): population association %.4f", i, v, cv)
		fmt.Fprintf(w, "%s\t%d\t%g\t%g\n", v.Chromosome, v.Position, cv, p)
	}
}

// variantPairs returns n distinct unordered pairs of variant indices
// drawn at random, or all pairs in order if rnd is nil or n is at
// least the number of pairs.
func variantPairs(nvariants, n int, rnd *rand.Rand) [][2]int {
	total := nvariants * (nvariants - 1) / 2
	var pairs [][2]int
	if rnd == nil || n >= total {
		for i := 0; i < nvariants; i++ {
			for j := i + 1; j < nvariants; j++ {
				pairs = append(pairs, [2]int{i, j})
			}
		}
		return pairs
	}
	seen := map[[2]int]bool{}
	for len(pairs) < n {
		i, j := rnd.Intn(nvariants), rnd.Intn(nvariants)
		if i == j {
			continue
		} else if i > j {
			i, j = j, i
		}
		if seen[[2]int{i, j}] {
			continue
		}
		seen[[2]int{i, j}] = true
		pairs = append(pairs, [2]int{i, j})
	}
	return pairs
}

func pairwiseAssociations(w io.Writer, x mat.Matrix, idx *FeatureIndex, pairs [][2]int) {
	fmt.Fprintln(w, "chromosome1\tposition1\tchromosome2\tposition2\tcramers_v")
	variants := idx.Variants()
	codes := make([][]int, len(variants))
	for i, v := range variants {
		codes[i] = genotypeCodes(x, idx.Columns(v))
	}
	var prog progress
	for n, pair := range pairs {
		v1, v2 := variants[pair[0]], variants[pair[1]]
		cv := CramersV(codes[pair[0]], codes[pair[1]])
		prog.log(n, "pair %d (%s, %s): association %.4f", n, v1, v2, cv)
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%g\n", v1.Chromosome, v1.Position, v2.Chromosome, v2.Position, cv)
	}
}

func singleAssociations(w io.Writer, x mat.Matrix, idx *FeatureIndex, query VariantLabel) {
	fmt.Fprintln(w, "chromosome\tposition\tcramers_v")
	qcodes := genotypeCodes(x, idx.Columns(query))
	var prog progress
	for i, v := range idx.Variants() {
		if v == query {
			continue
		}
		cv := CramersV(qcodes, genotypeCodes(x, idx.Columns(v)))
		prog.log(i, "variant %d (%s): association %.4f", i, v, cv)
		fmt.Fprintf(w, "%s\t%d\t%g\n", v.Chromosome, v.Position, cv)
	}
}
