// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// pythonPlot draws ranking stability curves from the overlap table
// written by analyze-rankings.
type pythonPlot struct {
	workdir   workdirFlags
	container containerFlags
}

//go:embed plot.py
var plotscript string

func (cmd *pythonPlot) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *pythonPlot) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "overlap table `file` (default: snp_ranking_overlaps.tsv in the work directory)")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './stability.png')")
	title := flags.String("title", "", "plot title")
	cmd.workdir.Flags(flags)
	cmd.container.Flags(flags, 1, 4<<30)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *inputFilename == "" {
		w, err := cmd.workdir.Workdir()
		if err != nil {
			return err
		}
		*inputFilename = w.AnalysisPath("snp_ranking_overlaps.tsv")
	}

	if cmd.container.local {
		if *outputFilename == "" {
			return errors.New("must specify -o filename.png in local mode (or try -help)")
		}
		py := exec.Command("python3", "-", *inputFilename, *outputFilename, *title)
		py.Stdin = strings.NewReader(plotscript)
		py.Stdout = stdout
		py.Stderr = stderr
		return py.Run()
	}

	runner := cmd.container.Runner("asaph plot")
	runner.Mounts = map[string]map[string]interface{}{
		"/plot.py": {
			"kind":    "text",
			"content": plotscript,
		},
	}
	err = runner.TranslatePaths(inputFilename)
	if err != nil {
		return err
	}
	runner.Prog = "python3"
	runner.Args = []string{"/plot.py", *inputFilename, "/mnt/output/stability.png", *title}
	output, err := runner.Run()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, output+"/stability.png")
	return nil
}
