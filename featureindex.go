// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/mat"
)

// FeatureIndex maps each variant to the matrix columns derived from
// it.
type FeatureIndex struct {
	variants   []VariantLabel
	columns    map[VariantLabel][]int
	labels     [][]FeatureLabel
	entries    []indexEntry
	compressed bool
}

type indexEntry struct {
	label FeatureLabel
	col   int
}

func newFeatureIndex(compressed bool) *FeatureIndex {
	return &FeatureIndex{
		columns:    map[VariantLabel][]int{},
		compressed: compressed,
	}
}

func (idx *FeatureIndex) add(label FeatureLabel, col int) {
	v := label.VariantLabel
	if _, ok := idx.columns[v]; !ok {
		idx.variants = append(idx.variants, v)
	}
	idx.columns[v] = append(idx.columns[v], col)
	for len(idx.labels) <= col {
		idx.labels = append(idx.labels, nil)
	}
	idx.labels[col] = append(idx.labels[col], label)
	idx.entries = append(idx.entries, indexEntry{label: label, col: col})
}

// Columns returns the column indices recorded for v. With
// compression, an index may appear more than once.
func (idx *FeatureIndex) Columns(v VariantLabel) []int {
	return idx.columns[v]
}

// Variants returns all indexed variants in the order first seen.
func (idx *FeatureIndex) Variants() []VariantLabel {
	return idx.variants
}

func (idx *FeatureIndex) NumVariants() int {
	return len(idx.variants)
}

func (idx *FeatureIndex) NumColumns() int {
	return len(idx.labels)
}

// ColumnLabels returns the feature labels merged into column col.
func (idx *FeatureIndex) ColumnLabels(col int) []FeatureLabel {
	return idx.labels[col]
}

func (idx *FeatureIndex) Compressed() bool {
	return idx.compressed
}

// indexBuilder collects surviving columns and assigns matrix column
// indices. When compress is set, columns with identical values share
// one index.
type indexBuilder struct {
	index  *FeatureIndex
	values [][]float64
	seen   map[[blake2b.Size256]byte][]int
}

func newIndexBuilder(compress bool) *indexBuilder {
	b := &indexBuilder{index: newFeatureIndex(compress)}
	if compress {
		b.seen = map[[blake2b.Size256]byte][]int{}
	}
	return b
}

func columnHash(values []float64) [blake2b.Size256]byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return blake2b.Sum256(buf)
}

// Add records a column and returns its matrix index.
func (b *indexBuilder) Add(label FeatureLabel, values []float64) int {
	if b.seen != nil {
		h := columnHash(values)
		for _, col := range b.seen[h] {
			if equalValues(b.values[col], values) {
				b.index.add(label, col)
				return col
			}
		}
		b.seen[h] = append(b.seen[h], len(b.values))
	}
	col := len(b.values)
	b.values = append(b.values, values)
	b.index.add(label, col)
	return col
}

func equalValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Matrix returns the collected columns as a rows x columns matrix.
func (b *indexBuilder) Matrix(rows int) *mat.Dense {
	return columnsToMatrix(b.values, rows)
}

// columnsToMatrix transposes column vectors into a dense matrix with
// one row per individual.
// columnsToMatrix returns an empty (0x0) matrix if there are no
// columns, since gonum has no N x 0 matrix.
func columnsToMatrix(cols [][]float64, rows int) *mat.Dense {
	if len(cols) == 0 || rows == 0 {
		return &mat.Dense{}
	}
	ncols := len(cols)
	data := make([]float64, rows*ncols)
	for j, col := range cols {
		for i, v := range col {
			data[i*ncols+j] = v
		}
	}
	return mat.NewDense(rows, ncols, data)
}
