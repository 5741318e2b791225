// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func writeNumpyFloat64(fnm string, m mat.Matrix) error {
	rows, cols := m.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = m.At(i, j)
		}
	}
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func readNumpyFloat64(fnm string) (*mat.Dense, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npr, err := gonpy.NewReader(bufio.NewReaderSize(f, 1<<26))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npr.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2-dimensional array, got shape %v", fnm, npr.Shape)
	}
	data, err := npr.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	rows, cols := npr.Shape[0], npr.Shape[1]
	if rows == 0 || cols == 0 {
		return &mat.Dense{}, nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// Sample is one row of the feature matrix.
type Sample struct {
	ID         string
	Population int
}

func writeSamples(fnm string, samples []Sample, popNames []string) error {
	log.Infof("writing sample metadata to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, "Index,SampleID,Population,Label")
	for i, s := range samples {
		name := ""
		if s.Population >= 0 && s.Population < len(popNames) {
			name = popNames[s.Population]
		}
		fmt.Fprintf(bufw, "%d,%s,%s,%d\n", i, s.ID, name, s.Population)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}

func loadSamples(fnm string) ([]Sample, error) {
	buf, err := os.ReadFile(fnm)
	if err != nil {
		return nil, err
	}
	var samples []Sample
	lineNum := 0
	for _, csv := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(csv) == 0 {
			continue
		}
		split := strings.Split(string(csv), ",")
		if len(split) != 4 {
			return nil, fmt.Errorf("%s line %d: %d fields != 4: %q", fnm, lineNum, len(split), csv)
		}
		if lineNum == 1 && split[0] == "Index" {
			continue
		}
		idx, err := strconv.Atoi(split[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: index: %w", fnm, lineNum, err)
		}
		if idx != len(samples) {
			return nil, fmt.Errorf("%s line %d: index %d out of order", fnm, lineNum, idx)
		}
		pop, err := strconv.Atoi(split[3])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: label: %w", fnm, lineNum, err)
		}
		samples = append(samples, Sample{ID: split[1], Population: pop})
	}
	return samples, nil
}

// ProjectSummary describes the result of an import run.
type ProjectSummary struct {
	OriginalPositions   int      `yaml:"originalPositions"`
	FilteredPositions   int      `yaml:"filteredPositions"`
	Features            int      `yaml:"features"`
	FeatureEncoding     string   `yaml:"featureEncoding"`
	Sampling            string   `yaml:"sampling"`
	Compressed          bool     `yaml:"compressed"`
	ProjectedDimensions int      `yaml:"projectedDimensions,omitempty"`
	Samples             int      `yaml:"samples"`
	PopulationNames     []string `yaml:"populationNames"`
}

func writeProjectSummary(fnm string, ps ProjectSummary) error {
	buf, err := yaml.Marshal(ps)
	if err != nil {
		return err
	}
	return os.WriteFile(fnm, buf, 0666)
}

func loadProjectSummary(fnm string) (ProjectSummary, error) {
	var ps ProjectSummary
	buf, err := os.ReadFile(fnm)
	if err != nil {
		return ps, err
	}
	err = yaml.Unmarshal(buf, &ps)
	if err != nil {
		return ps, fmt.Errorf("%s: %w", fnm, err)
	}
	return ps, nil
}

// rankingFile is the on-disk form of one trained replicate's SNP
// ranking.
type rankingFile struct {
	ModelSize int
	Replicate int
	Estimator string
	Ranking   SNPRanking
}

func writeRanking(fnm string, rf rankingFile) error {
	err := os.MkdirAll(filepath.Dir(fnm), 0777)
	if err != nil {
		return err
	}
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriterSize(f, 1<<20)
	zw := pgzip.NewWriter(bufw)
	err = gob.NewEncoder(zw).Encode(rf)
	if err != nil {
		return fmt.Errorf("encode %s: %w", fnm, err)
	}
	err = zw.Close()
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func loadRanking(fnm string) (rankingFile, error) {
	var rf rankingFile
	f, err := zopen(fnm)
	if err != nil {
		return rf, err
	}
	defer f.Close()
	err = gob.NewDecoder(f).Decode(&rf)
	if err != nil {
		return rf, fmt.Errorf("decode %s: %w", fnm, err)
	}
	return rf, nil
}

// loadRankings reads every persisted ranking in the work directory,
// keyed by model size and ordered by replicate.
func loadRankings(w Workdir) (map[int][]SNPRanking, error) {
	modelsDir := filepath.Join(w.Dir, w.Layout.Models)
	ents, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, err
	}
	models := map[int][]SNPRanking{}
	for _, ent := range ents {
		size, err := strconv.Atoi(ent.Name())
		if err != nil || !ent.IsDir() {
			continue
		}
		fnms, err := filepath.Glob(filepath.Join(modelsDir, ent.Name(), "model*.gob.gz"))
		if err != nil {
			return nil, err
		}
		var files []rankingFile
		for _, fnm := range fnms {
			rf, err := loadRanking(fnm)
			if err != nil {
				return nil, err
			}
			files = append(files, rf)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Replicate < files[j].Replicate })
		for _, rf := range files {
			models[size] = append(models[size], rf.Ranking)
		}
	}
	log.Infof("loaded rankings for %d model sizes from %s", len(models), modelsDir)
	return models, nil
}
