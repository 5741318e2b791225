// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Layout names the files and directories of a work directory,
// relative to the work directory itself.
type Layout struct {
	FeatureMatrix  string `yaml:"featureMatrix"`
	Samples        string `yaml:"samples"`
	FeatureIndex   string `yaml:"featureIndex"`
	ProjectSummary string `yaml:"projectSummary"`
	Models         string `yaml:"models"`
	Analysis       string `yaml:"analysis"`
	Statistics     string `yaml:"statistics"`
	PCA            string `yaml:"pca"`
}

var DefaultLayout = Layout{
	FeatureMatrix:  "feature_matrix.npy",
	Samples:        "samples.csv",
	FeatureIndex:   "feature_index.sqlite",
	ProjectSummary: "project_summary.yaml",
	Models:         "models",
	Analysis:       "analysis",
	Statistics:     "statistics",
	PCA:            "pca.npy",
}

// LoadLayout reads a YAML layout file. Entries missing from the file
// keep their default values.
func LoadLayout(path string) (Layout, error) {
	layout := DefaultLayout
	if path == "" {
		return layout, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return layout, fmt.Errorf("reading layout file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return layout, fmt.Errorf("parsing layout file %s: %w", path, err)
	}
	return layout, nil
}

// Workdir is the directory shared by the import, train, and analysis
// commands.
type Workdir struct {
	Dir    string
	Layout Layout
}

func (w Workdir) FeatureMatrixPath() string  { return filepath.Join(w.Dir, w.Layout.FeatureMatrix) }
func (w Workdir) SamplesPath() string        { return filepath.Join(w.Dir, w.Layout.Samples) }
func (w Workdir) FeatureIndexPath() string   { return filepath.Join(w.Dir, w.Layout.FeatureIndex) }
func (w Workdir) ProjectSummaryPath() string { return filepath.Join(w.Dir, w.Layout.ProjectSummary) }
func (w Workdir) PCAPath() string            { return filepath.Join(w.Dir, w.Layout.PCA) }

func (w Workdir) ModelDir(size int) string {
	return filepath.Join(w.Dir, w.Layout.Models, strconv.Itoa(size))
}

func (w Workdir) RankingPath(size, replicate int) string {
	return filepath.Join(w.ModelDir(size), fmt.Sprintf("model%d.gob.gz", replicate))
}

func (w Workdir) AnalysisPath(name string) string {
	return filepath.Join(w.Dir, w.Layout.Analysis, name)
}

func (w Workdir) StatisticsPath(name string) string {
	return filepath.Join(w.Dir, w.Layout.Statistics, name)
}

// workdirFlags registers the -workdir and -layout flags. The work
// directory defaults to $ASAPH_WORKDIR.
type workdirFlags struct {
	dir    string
	layout string
}

func (wf *workdirFlags) Flags(flags *flag.FlagSet) {
	flags.StringVar(&wf.dir, "workdir", os.Getenv("ASAPH_WORKDIR"), "work `directory` (default $ASAPH_WORKDIR)")
	flags.StringVar(&wf.layout, "layout", "", "YAML `file` overriding work directory file names")
}

// Args returns the flags that select the same work directory and
// layout in a child process.
func (wf *workdirFlags) Args() []string {
	args := []string{"-workdir=" + wf.dir}
	if wf.layout != "" {
		args = append(args, "-layout="+wf.layout)
	}
	return args
}

// translated returns a copy with the layout file (and, unless dir is
// non-empty, the work directory) rewritten to container mount paths.
func (wf *workdirFlags) translated(runner *arvadosContainerRunner, dir string) (workdirFlags, error) {
	out := *wf
	if dir != "" {
		out.dir = dir
	} else if err := runner.TranslatePaths(&out.dir); err != nil {
		return out, err
	}
	err := runner.TranslatePaths(&out.layout)
	return out, err
}

func (wf *workdirFlags) Workdir() (Workdir, error) {
	if wf.dir == "" {
		return Workdir{}, fmt.Errorf("work directory not specified (use -workdir or $ASAPH_WORKDIR)")
	}
	layout, err := LoadLayout(wf.layout)
	if err != nil {
		return Workdir{}, err
	}
	return Workdir{Dir: wf.dir, Layout: layout}, nil
}
