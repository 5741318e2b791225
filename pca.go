// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"flag"
	"fmt"
	"io"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcaComponents returns the first k principal components of the rows
// of x (one row per individual, one column per component). k is
// reduced if x has fewer rows or columns.
func pcaComponents(x mat.Matrix, k int) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if k > rows {
		k = rows
	}
	if k > cols {
		k = cols
	}
	if k < 1 {
		return nil, fmt.Errorf("cannot compute principal components of %d x %d matrix", rows, cols)
	}
	// nlp expects one column per observation.
	transformer := nlp.NewPCA(k)
	transformer.Fit(x.T())
	mtx, err := transformer.Transform(x.T())
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(mtx.T()), nil
}

type pcaCommand struct {
	workdir workdirFlags
}

func (cmd *pcaCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *pcaCommand) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data and metrics at http://`[addr]:port`")
	components := flags.Int("components", 4, "number of components")
	cmd.workdir.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	servePprof(*pprof)

	w, err := cmd.workdir.Workdir()
	if err != nil {
		return err
	}
	log.Print("reading feature matrix")
	x, err := readNumpyFloat64(w.FeatureMatrixPath())
	if err != nil {
		return err
	}
	rows, cols := x.Dims()
	log.Printf("fitting %d components: %d rows, %d cols", *components, rows, cols)
	pcs, err := pcaComponents(x, *components)
	if err != nil {
		return err
	}
	err = writeNumpyFloat64(w.PCAPath(), pcs)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, w.PCAPath())
	return nil
}
