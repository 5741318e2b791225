// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"fmt"
	"strconv"
)

type QualifierKind uint8

const (
	QualifierAllele QualifierKind = iota
	QualifierGenotype
)

type GenotypeCategory uint8

const (
	HomozygousRef GenotypeCategory = iota
	HomozygousAlt
	Heterozygous
)

var categoryCalls = [...]GenotypeCall{
	HomozygousRef: {Ref: 2},
	HomozygousAlt: {Alt: 2},
	Heterozygous:  {Ref: 1, Alt: 1},
}

// Qualifier distinguishes the columns derived from one site. For
// QualifierAllele, Token is the allele sequence. For
// QualifierGenotype, Category is set and Token describes the genotype
// (e.g. "A/T").
type Qualifier struct {
	Kind     QualifierKind
	Token    string
	Category GenotypeCategory
}

// FeatureLabel identifies one feature column.
type FeatureLabel struct {
	VariantLabel
	Qualifier Qualifier
}

// String returns the label in the form used as a hash key,
// "chrom_pos_token".
func (fl FeatureLabel) String() string {
	return fl.Chromosome + "_" + strconv.Itoa(fl.Position) + "_" + fl.Qualifier.Token
}

type FeatureColumn struct {
	Label  FeatureLabel
	Values []float64
}

// Encoder expands a variant record into feature columns. Output order
// is the same for every record.
type Encoder interface {
	Encode(VariantRecord) []FeatureColumn
	Name() string
}

// CountEncoder emits one column of reference allele counts and one of
// alternate allele counts.
type CountEncoder struct{}

func (CountEncoder) Name() string { return "counts" }

func (CountEncoder) Encode(rec VariantRecord) []FeatureColumn {
	ref := make([]float64, len(rec.Calls))
	alt := make([]float64, len(rec.Calls))
	for i, gc := range rec.Calls {
		ref[i] = float64(gc.Ref)
		alt[i] = float64(gc.Alt)
	}
	return []FeatureColumn{
		{Label: FeatureLabel{rec.Label, Qualifier{Kind: QualifierAllele, Token: rec.Alleles.Ref}}, Values: ref},
		{Label: FeatureLabel{rec.Label, Qualifier{Kind: QualifierAllele, Token: rec.Alleles.Alt}}, Values: alt},
	}
}

// CategoricalEncoder emits one-hot homozygous-reference,
// homozygous-alternate, and heterozygous columns. Partially or fully
// unknown calls are zero in all three.
type CategoricalEncoder struct{}

func (CategoricalEncoder) Name() string { return "categories" }

func (CategoricalEncoder) Encode(rec VariantRecord) []FeatureColumn {
	ref, alt := rec.Alleles.Ref, rec.Alleles.Alt
	tokens := [...]string{
		HomozygousRef: ref + "/" + ref,
		HomozygousAlt: alt + "/" + alt,
		Heterozygous:  ref + "/" + alt,
	}
	cols := make([]FeatureColumn, len(categoryCalls))
	for cat := range cols {
		values := make([]float64, len(rec.Calls))
		for i, gc := range rec.Calls {
			if gc == categoryCalls[cat] {
				values[i] = 1
			}
		}
		cols[cat] = FeatureColumn{
			Label: FeatureLabel{rec.Label, Qualifier{
				Kind:     QualifierGenotype,
				Token:    tokens[cat],
				Category: GenotypeCategory(cat),
			}},
			Values: values,
		}
	}
	return cols
}

// ParseEncoding returns the encoder with the given name.
func ParseEncoding(name string) (Encoder, error) {
	switch name {
	case "counts":
		return CountEncoder{}, nil
	case "categories":
		return CategoricalEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown feature encoding %q (expected counts or categories)", name)
	}
}

// ColumnSource is a single-pass sequence of feature columns.
type ColumnSource interface {
	Next() bool
	Column() FeatureColumn
	Err() error
}

type recordSource interface {
	Next() bool
	Record() VariantRecord
	Err() error
}

type encodedColumns struct {
	records recordSource
	enc     Encoder
	pending []FeatureColumn
	col     FeatureColumn
}

// EncodeStream returns the columns produced by enc for each record in
// records.
func EncodeStream(records recordSource, enc Encoder) ColumnSource {
	return &encodedColumns{records: records, enc: enc}
}

func (ec *encodedColumns) Next() bool {
	for len(ec.pending) == 0 {
		if !ec.records.Next() {
			return false
		}
		ec.pending = ec.enc.Encode(ec.records.Record())
	}
	ec.col, ec.pending = ec.pending[0], ec.pending[1:]
	return true
}

func (ec *encodedColumns) Column() FeatureColumn { return ec.col }

func (ec *encodedColumns) Err() error { return ec.records.Err() }
