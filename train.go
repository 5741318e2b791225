// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type trainer struct {
	workdir     workdirFlags
	container   containerFlags
	batchArgs   batchArgs
	estimator   EstimatorConfig
	outputDir   string
	modelSizes  string
	replicates  int
	batchSize   int
	threads     int
	resamples   int
	seed        uint64
	casePopName string
}

// trainingJob is one replicate of one ensemble size.
type trainingJob struct {
	size      int
	replicate int
	seed      uint64
}

func (cmd *trainer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *trainer) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data and metrics at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	flags.StringVar(&cmd.estimator.Kind, "estimator", "logistic", "estimator: logistic, chi2, glm, or cramers-v")
	flags.Float64Var(&cmd.estimator.L2, "l2", 0.001, "logistic regression L2 penalty")
	flags.IntVar(&cmd.estimator.PCAComponents, "pca-components", 4, "principal components to use as glm covariates")
	flags.StringVar(&cmd.modelSizes, "model-sizes", "10,50,100", "comma-separated ensemble `sizes` to train")
	flags.IntVar(&cmd.replicates, "replicates", 2, "independently trained ensembles per size")
	flags.IntVar(&cmd.batchSize, "batch-size", 10, "models trained per batch")
	flags.IntVar(&cmd.threads, "threads", 4, "batches trained concurrently")
	flags.IntVar(&cmd.resamples, "bootstrap-resamples", -1, "extra rows drawn with replacement for each model, in addition to all rows (-1 = plain bootstrap)")
	flags.Uint64Var(&cmd.seed, "random-seed", 1, "random `seed`")
	flags.StringVar(&cmd.casePopName, "case-population", "", "population treated as cases (default: second population, if there are exactly two)")
	flags.StringVar(&cmd.outputDir, "output-dir", "", "write rankings under this `directory` instead of the work directory")
	cmd.workdir.Flags(flags)
	cmd.container.Flags(flags, 8, 32<<30)
	cmd.batchArgs.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	servePprof(*pprof)
	err = setLogLevel(*loglevel)
	if err != nil {
		return err
	}
	sizes, err := parseIntList(cmd.modelSizes)
	if err != nil {
		return fmt.Errorf("-model-sizes: %w", err)
	}
	factory, err := cmd.estimator.Factory()
	if err != nil {
		return err
	}

	if !cmd.container.local {
		outputs, err := cmd.batchArgs.RunBatches(context.Background(), func(ctx context.Context, batch int) (string, error) {
			runner := cmd.container.Runner(fmt.Sprintf("asaph train batch %d/%d", batch, cmd.batchArgs.batches))
			wf, err := cmd.workdir.translated(runner, "")
			if err != nil {
				return "", err
			}
			args := append([]string{"train", "-local=true",
				"-loglevel=" + *loglevel,
				"-output-dir=/mnt/output",
				"-estimator=" + cmd.estimator.Kind,
				fmt.Sprintf("-l2=%f", cmd.estimator.L2),
				fmt.Sprintf("-pca-components=%d", cmd.estimator.PCAComponents),
				"-model-sizes=" + cmd.modelSizes,
				fmt.Sprintf("-replicates=%d", cmd.replicates),
				fmt.Sprintf("-batch-size=%d", cmd.batchSize),
				fmt.Sprintf("-threads=%d", cmd.container.vcpus),
				fmt.Sprintf("-bootstrap-resamples=%d", cmd.resamples),
				fmt.Sprintf("-random-seed=%d", cmd.seed),
				"-case-population=" + cmd.casePopName,
			}, wf.Args()...)
			runner.Args = append(args, cmd.batchArgs.Args(batch)...)
			return runner.RunContext(ctx)
		})
		if err != nil {
			return err
		}
		for _, output := range outputs {
			fmt.Fprintln(stdout, output)
		}
		return nil
	}

	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	out := w
	if cmd.outputDir != "" {
		out.Dir = cmd.outputDir
	}
	summary, err := loadProjectSummary(w.ProjectSummaryPath())
	if err != nil {
		return err
	}
	if summary.ProjectedDimensions > 0 {
		return errors.New("cannot rank variants using a randomly projected feature matrix")
	}
	samples, err := loadSamples(w.SamplesPath())
	if err != nil {
		return err
	}
	y, err := caseLabels(samples, summary.PopulationNames, cmd.casePopName)
	if err != nil {
		return err
	}
	idx, err := loadFeatureIndex(w.FeatureIndexPath())
	if err != nil {
		return err
	}
	x, err := readNumpyFloat64(w.FeatureMatrixPath())
	if err != nil {
		return err
	}
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("feature matrix has %d rows but there are %d samples", rows, len(y))
	} else if cols != idx.NumColumns() {
		return fmt.Errorf("feature matrix has %d columns but feature index has %d", cols, idx.NumColumns())
	}

	jobs := cmd.jobs(sizes)
	start, end := cmd.batchArgs.Range(len(jobs))
	for _, job := range jobs[start:end] {
		err = cmd.train(out, job, factory, x, y, idx)
		if err != nil {
			return err
		}
	}
	return nil
}

// jobs returns every (size, replicate) combination with its own seed.
// Seeds do not depend on batching.
func (cmd *trainer) jobs(sizes []int) []trainingJob {
	rnd := rand.New(rand.NewSource(cmd.seed))
	var jobs []trainingJob
	for _, size := range sizes {
		for r := 1; r <= cmd.replicates; r++ {
			jobs = append(jobs, trainingJob{size: size, replicate: r, seed: rnd.Uint64()})
		}
	}
	return jobs
}

func (cmd *trainer) train(w Workdir, job trainingJob, factory EstimatorFactory, x *mat.Dense, y []bool, idx *FeatureIndex) error {
	log.Infof("training %s ensemble of %d models, replicate %d", cmd.estimator.Kind, job.size, job.replicate)
	ens := Ensemble{
		New:       factory,
		Name:      cmd.estimator.Kind,
		Models:    job.size,
		BatchSize: cmd.batchSize,
		Threads:   cmd.threads,
		Resamples: cmd.resamples,
		Seed:      job.seed,
	}
	importances, err := ens.FeatureImportances(x, y)
	if err != nil {
		return err
	}
	ranking, err := AggregateImportances(importances, idx)
	if err != nil {
		return err
	}
	return writeRanking(w.RankingPath(job.size, job.replicate), rankingFile{
		ModelSize: job.size,
		Replicate: job.replicate,
		Estimator: cmd.estimator.Kind,
		Ranking:   ranking,
	})
}

// caseLabels returns true for samples in the case population.
func caseLabels(samples []Sample, popNames []string, casePop string) ([]bool, error) {
	caseIdx := -1
	if casePop != "" {
		for i, name := range popNames {
			if name == casePop {
				caseIdx = i
			}
		}
		if caseIdx < 0 {
			return nil, fmt.Errorf("case population %q not found in %v", casePop, popNames)
		}
	} else if len(popNames) == 2 {
		caseIdx = 1
	} else {
		return nil, fmt.Errorf("cannot choose case population automatically from %d populations (use -case-population)", len(popNames))
	}
	y := make([]bool, len(samples))
	for i, s := range samples {
		if s.Population < 0 {
			return nil, fmt.Errorf("sample %s has no population", s.ID)
		}
		y[i] = s.Population == caseIdx
	}
	return y, nil
}
