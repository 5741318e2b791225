// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

type importer struct {
	workdir   workdirFlags
	container containerFlags
	filter    VariantFilter
	sampling  SamplingConfig
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *importer) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data and metrics at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	vcfFilename := flags.String("vcf", "", "input VCF `file` (.vcf, .vcf.gz, or .vcf.zst)")
	popsFilename := flags.String("populations", "", "population membership `file` (name,id,id,... per line)")
	encoding := flags.String("encoding", "categories", "feature encoding: counts or categories")
	projectDims := flags.Int("project-dimensions", 0, "reduce the feature matrix to `N` columns by sparse random projection (0 = no projection)")
	flags.Float64Var(&cmd.filter.MinAlleleFrequency, "maf", 0, "drop sites with minor allele fraction below this threshold")
	flags.BoolVar(&cmd.filter.Exclusive, "maf-exclusive", false, "also drop sites with minor allele fraction equal to -maf")
	flags.BoolVar(&cmd.filter.DropUnknownPopulation, "drop-unknown-population", false, "drop sites where all members of some population have unknown genotypes")
	flags.BoolVar(&cmd.filter.KeepInvariant, "keep-invariant", false, "keep sites where all individuals have the same genotype")
	flags.StringVar(&cmd.sampling.Strategy, "sampling", "full", "feature sampling strategy: full, reservoir, hashing, or bottom-k")
	flags.IntVar(&cmd.sampling.Features, "features", 0, "number of features to keep (reservoir, hashing, bottom-k)")
	flags.BoolVar(&cmd.sampling.Compress, "compress", false, "merge identical feature columns")
	flags.StringVar(&cmd.sampling.Hash, "hash", "murmur3", "label hash function for hashing and bottom-k: murmur3 or xxhash")
	flags.Uint64Var(&cmd.sampling.Seed, "random-seed", 1, "random `seed` for reservoir sampling and projection")
	cmd.workdir.Flags(flags)
	cmd.container.Flags(flags, 4, 64<<30)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	} else if *vcfFilename == "" {
		return errors.New("no input: specify -vcf file")
	}
	servePprof(*pprof)
	err = setLogLevel(*loglevel)
	if err != nil {
		return err
	}

	if !cmd.container.local {
		runner := cmd.container.Runner("asaph import")
		err = runner.TranslatePaths(vcfFilename, popsFilename)
		if err != nil {
			return err
		}
		wf, err := cmd.workdir.translated(runner, "/mnt/output")
		if err != nil {
			return err
		}
		runner.Args = append([]string{"import", "-local=true",
			"-loglevel=" + *loglevel,
			"-vcf=" + *vcfFilename,
			"-populations=" + *popsFilename,
			"-encoding=" + *encoding,
			fmt.Sprintf("-project-dimensions=%d", *projectDims),
			fmt.Sprintf("-maf=%f", cmd.filter.MinAlleleFrequency),
			fmt.Sprintf("-maf-exclusive=%v", cmd.filter.Exclusive),
			fmt.Sprintf("-drop-unknown-population=%v", cmd.filter.DropUnknownPopulation),
			fmt.Sprintf("-keep-invariant=%v", cmd.filter.KeepInvariant),
			"-sampling=" + cmd.sampling.Strategy,
			fmt.Sprintf("-features=%d", cmd.sampling.Features),
			fmt.Sprintf("-compress=%v", cmd.sampling.Compress),
			"-hash=" + cmd.sampling.Hash,
			fmt.Sprintf("-random-seed=%d", cmd.sampling.Seed),
		}, wf.Args()...)
		output, err := runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output)
		return nil
	}

	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	enc, err := ParseEncoding(*encoding)
	if err != nil {
		return err
	}
	acc, err := cmd.sampling.Accumulator()
	if err != nil {
		return err
	}
	err = os.MkdirAll(w.Dir, 0777)
	if err != nil {
		return err
	}

	var pops *Populations
	popNames := []string{}
	if *popsFilename != "" {
		pops, err = LoadPopulations(*popsFilename)
		if err != nil {
			return err
		}
		popNames = pops.Names
		log.Infof("loaded %d populations, %d individuals", len(pops.Names), len(pops.Member))
	}
	vcf, err := OpenVCF(*vcfFilename, pops, cmd.filter)
	if err != nil {
		return err
	}
	defer vcf.Close()
	individuals := vcf.Individuals()
	x, idx, err := acc.Transform(EncodeStream(vcf, enc), len(individuals))
	if err != nil {
		return fmt.Errorf("%s: %w", *vcfFilename, err)
	}
	stats, err := vcf.Stats()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"read":     stats.LinesRead,
		"retained": stats.LinesRetained,
	}).Infof("%s: done reading variants", *vcfFilename)
	if idx.NumColumns() == 0 {
		return fmt.Errorf("%s: no variants retained after filtering (read %d)", *vcfFilename, stats.LinesRead)
	}

	_, features := x.Dims()
	summary := ProjectSummary{
		OriginalPositions: stats.LinesRead,
		FilteredPositions: stats.LinesRetained,
		Features:          features,
		FeatureEncoding:   enc.Name(),
		Sampling:          acc.Name(),
		Compressed:        idx.Compressed(),
		Samples:           len(individuals),
		PopulationNames:   popNames,
	}
	if *projectDims > 0 {
		proj := SparseRandomProjection{
			Components: *projectDims,
			Rand:       rand.New(rand.NewSource(cmd.sampling.Seed)),
		}
		err = proj.Fit(x)
		if err != nil {
			return err
		}
		x, err = proj.Transform(x)
		if err != nil {
			return err
		}
		summary.ProjectedDimensions = *projectDims
	}

	err = writeNumpyFloat64(w.FeatureMatrixPath(), x)
	if err != nil {
		return err
	}
	samples := make([]Sample, len(individuals))
	popOf := vcf.PopulationOf()
	for i, id := range individuals {
		samples[i] = Sample{ID: id, Population: -1}
		if popOf != nil {
			samples[i].Population = popOf[i]
		}
	}
	err = writeSamples(w.SamplesPath(), samples, popNames)
	if err != nil {
		return err
	}
	err = writeFeatureIndex(w.FeatureIndexPath(), idx)
	if err != nil {
		return err
	}
	return writeProjectSummary(w.ProjectSummaryPath(), summary)
}
