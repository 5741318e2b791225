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
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type analyzeRankings struct {
	workdir workdirFlags
}

func (cmd *analyzeRankings) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *analyzeRankings) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	thresholds := flags.String("thresholds", "0.01,0.05,0.1,0.25", "comma-separated top-k `fractions`")
	universe := flags.Int("universe", 0, "number of candidate variants for top-k cutoffs (0 = shorter ranking of each pair)")
	useFiltered := flags.Bool("universe-filtered-positions", false, "use the number of filtered positions from the project summary as -universe")
	modelSizes := flags.String("model-sizes", "", "comma-separated model `sizes` to compare (default: all)")
	cmd.workdir.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	ts, err := parseFloatList(*thresholds)
	if err != nil {
		return fmt.Errorf("-thresholds: %w", err)
	}
	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	sa := StabilityAnalyzer{Thresholds: ts, Universe: *universe}
	if *useFiltered {
		summary, err := loadProjectSummary(w.ProjectSummaryPath())
		if err != nil {
			return err
		}
		sa.Universe = summary.FilteredPositions
	}
	models, err := loadRankings(w)
	if err != nil {
		return err
	}
	if *modelSizes != "" {
		sizes, err := parseIntList(*modelSizes)
		if err != nil {
			return fmt.Errorf("-model-sizes: %w", err)
		}
		models, err = SelectModelSizes(models, sizes)
		if err != nil {
			return err
		}
	}
	err = os.MkdirAll(filepath.Dir(w.AnalysisPath("x")), 0777)
	if err != nil {
		return err
	}

	sizes, curves := sa.SimilarityCurves(models)
	fnm := w.AnalysisPath("snp_ranking_overlaps.tsv")
	err = writeTSV(fnm, func(bufw *bufio.Writer) {
		fmt.Fprint(bufw, "model_size")
		for _, c := range curves {
			fmt.Fprintf(bufw, "\t%g", c.Threshold)
		}
		fmt.Fprintln(bufw)
		for i, size := range sizes {
			fmt.Fprintf(bufw, "%d", size)
			for _, c := range curves {
				fmt.Fprintf(bufw, "\t%.2f", c.Overlaps[i])
			}
			fmt.Fprintln(bufw)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, fnm)

	counts := SampledSNPCounts(models)
	fnm = w.AnalysisPath("sampled_snp_counts.tsv")
	err = writeTSV(fnm, func(bufw *bufio.Writer) {
		fmt.Fprintln(bufw, "model_size\tcommon\treplicate1\treplicate2")
		for _, sc := range counts {
			fmt.Fprintf(bufw, "%d\t%d\t%d\t%d\n", sc.ModelSize, sc.Common, sc.Replicate[0], sc.Replicate[1])
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, fnm)
	return nil
}

type outputRankings struct {
	workdir workdirFlags
}

func (cmd *outputRankings) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *outputRankings) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	size := flags.Int("model-size", 0, "ensemble `size` whose ranking to output")
	replicate := flags.Int("replicate", 1, "replicate `number`")
	outputFilename := flags.String("o", "-", "output `file`")
	cmd.workdir.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	} else if *size < 1 {
		return errors.New("-model-size must be specified")
	}
	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	models, err := loadRankings(w)
	if err != nil {
		return err
	}
	models, err = SelectModelSizes(models, []int{*size})
	if err != nil {
		return err
	}
	reps := models[*size]
	if *replicate < 1 || *replicate > len(reps) {
		return fmt.Errorf("replicate %d not found for model size %d (have %d)", *replicate, *size, len(reps))
	}
	ranked := reps[*replicate-1].Rank()
	log.Infof("writing %d ranked variants", ranked.Len())

	var output io.Writer = stdout
	if *outputFilename != "-" {
		f, err := os.Create(*outputFilename)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}
	bufw := bufio.NewWriter(output)
	fmt.Fprintln(bufw, "chromosome\tposition\timportance")
	for i, l := range ranked.Labels {
		fmt.Fprintf(bufw, "%s\t%d\t%g\n", l.Chromosome, l.Position, ranked.Importances[i])
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	if f, ok := output.(*os.File); ok && *outputFilename != "-" {
		return f.Close()
	}
	return nil
}

func writeTSV(fnm string, write func(*bufio.Writer)) error {
	log.Infof("writing %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	write(bufw)
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
