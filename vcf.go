// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	ErrGenotypeTag       = errors.New("unsupported genotype tag")
	ErrMultiallelic      = errors.New("more than two alleles at site")
	ErrMalformedLine     = errors.New("malformed variant line")
	ErrMissingHeader     = errors.New("no #CHROM header line before variant data")
	ErrStreamNotConsumed = errors.New("variant stream has not been fully consumed")
)

// Number of fixed metadata columns preceding the genotype columns.
const vcfFixedColumns = 9

// VariantLabel identifies a genomic site.
type VariantLabel struct {
	Chromosome string
	Position   int
}

func (l VariantLabel) String() string {
	return l.Chromosome + ":" + strconv.Itoa(l.Position)
}

// Less orders labels by chromosome name, then position.
func (l VariantLabel) Less(other VariantLabel) bool {
	if l.Chromosome != other.Chromosome {
		return l.Chromosome < other.Chromosome
	}
	return l.Position < other.Position
}

type AllelePair struct {
	Ref string
	Alt string
}

// GenotypeCall holds the number of reference and alternate alleles
// observed in one individual at one site. Missing alleles count
// toward neither, so a fully missing call is (0,0).
type GenotypeCall struct {
	Ref uint8
	Alt uint8
}

// Unknown reports whether no allele was observed.
func (gc GenotypeCall) Unknown() bool {
	return gc.Ref == 0 && gc.Alt == 0
}

type VariantRecord struct {
	Label   VariantLabel
	Alleles AllelePair
	Calls   []GenotypeCall
}

// parseGenotype converts a genotype field such as "0/1:35:..." to a
// GenotypeCall.
func parseGenotype(field string) (GenotypeCall, error) {
	var gc GenotypeCall
	if i := strings.IndexByte(field, ':'); i >= 0 {
		field = field[:i]
	}
	sep := strings.IndexAny(field, "/|")
	if sep < 0 {
		return gc, fmt.Errorf("%w: %q", ErrGenotypeTag, field)
	}
	for _, tag := range [2]string{field[:sep], field[sep+1:]} {
		switch tag {
		case "0":
			gc.Ref++
		case "1":
			gc.Alt++
		case ".":
		default:
			return gc, fmt.Errorf("%w: %q", ErrGenotypeTag, field)
		}
	}
	return gc, nil
}

// parseVariantLine parses one data line. Only the genotype columns
// listed in keep (0-based, relative to the first genotype column) are
// decoded.
func parseVariantLine(line string, ncols int, keep []int) (VariantRecord, error) {
	var rec VariantRecord
	fields := strings.Fields(line)
	if len(fields) < vcfFixedColumns {
		return rec, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(fields))
	}
	pos, err := strconv.Atoi(fields[1])
	if err != nil {
		return rec, fmt.Errorf("%w: position %q", ErrMalformedLine, fields[1])
	}
	rec.Label = VariantLabel{Chromosome: fields[0], Position: pos}
	if len(fields) != vcfFixedColumns+ncols {
		return rec, fmt.Errorf("%s: %w: %d genotype fields, header has %d", rec.Label, ErrMalformedLine, len(fields)-vcfFixedColumns, ncols)
	}
	if strings.IndexByte(fields[4], ',') >= 0 {
		return rec, fmt.Errorf("%s: %w: %s/%s", rec.Label, ErrMultiallelic, fields[3], fields[4])
	}
	rec.Alleles = AllelePair{Ref: fields[3], Alt: fields[4]}
	rec.Calls = make([]GenotypeCall, len(keep))
	for i, col := range keep {
		rec.Calls[i], err = parseGenotype(fields[vcfFixedColumns+col])
		if err != nil {
			return rec, fmt.Errorf("%s: individual %d: %w", rec.Label, col, err)
		}
	}
	return rec, nil
}

// VariantFilter selects which parsed sites a VCFStream yields.
type VariantFilter struct {
	// Minimum minor allele fraction, compared with >= unless
	// Exclusive is set.
	MinAlleleFrequency float64
	Exclusive          bool
	// Drop sites where every member of some population has an
	// unknown call.
	DropUnknownPopulation bool
	// Keep sites with fewer than two distinct genotypes.
	KeepInvariant bool
}

func (f *VariantFilter) passMAF(calls []GenotypeCall) bool {
	var ref, alt int
	for _, gc := range calls {
		ref += int(gc.Ref)
		alt += int(gc.Alt)
	}
	if ref+alt == 0 {
		return false
	}
	minor := ref
	if alt < minor {
		minor = alt
	}
	frac := float64(minor) / float64(ref+alt)
	if f.Exclusive {
		return frac > f.MinAlleleFrequency
	}
	return frac >= f.MinAlleleFrequency
}

func passKnownPopulations(calls []GenotypeCall, popOf []int, npops int) bool {
	present := make([]bool, npops)
	known := make([]bool, npops)
	for i, gc := range calls {
		present[popOf[i]] = true
		if !gc.Unknown() {
			known[popOf[i]] = true
		}
	}
	for pop, k := range known {
		if present[pop] && !k {
			return false
		}
	}
	return true
}

func passVariable(calls []GenotypeCall) bool {
	if len(calls) == 0 {
		return false
	}
	for _, gc := range calls[1:] {
		if gc != calls[0] {
			return true
		}
	}
	return false
}

// StreamStats are the line counters of a fully consumed VCFStream.
type StreamStats struct {
	LinesRead     int
	LinesRetained int
}

// VCFStream yields filtered VariantRecords from VCF text, one at a
// time. It is single-pass; reopen the input to start over.
type VCFStream struct {
	scanner     *bufio.Scanner
	filter      VariantFilter
	individuals []string
	keep        []int
	popOf       []int
	npops       int
	ncols       int

	rec  VariantRecord
	err  error
	done bool
	// data lines only (header lines are not counted)
	linesRead     int
	linesRetained int
}

// NewVCFStream reads the VCF header from r. If pops is non-nil, only
// individuals that belong to a population are retained, in header
// order.
func NewVCFStream(r io.Reader, pops *Populations, filter VariantFilter) (*VCFStream, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<30)
	s := &VCFStream{scanner: scanner, filter: filter}
	if pops != nil {
		s.npops = len(pops.Names)
	}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "##") {
			continue
		}
		if !strings.HasPrefix(line, "#CHROM") {
			return nil, ErrMissingHeader
		}
		fields := strings.Fields(line)
		if len(fields) < vcfFixedColumns {
			return nil, fmt.Errorf("%w: header has %d fields", ErrMalformedLine, len(fields))
		}
		s.ncols = len(fields) - vcfFixedColumns
		for i, id := range fields[vcfFixedColumns:] {
			if pops != nil {
				pop, ok := pops.Member[id]
				if !ok {
					continue
				}
				s.popOf = append(s.popOf, pop)
			}
			s.individuals = append(s.individuals, id)
			s.keep = append(s.keep, i)
		}
		log.Infof("vcf header: %d individuals, %d retained", s.ncols, len(s.keep))
		return s, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, ErrMissingHeader
}

// Individuals returns the retained individual IDs; each record has one
// call per individual, in this order.
func (s *VCFStream) Individuals() []string {
	return s.individuals
}

// PopulationOf returns the population index of each retained
// individual, or nil if no populations were given.
func (s *VCFStream) PopulationOf() []int {
	return s.popOf
}

// Next advances to the next retained record. It returns false at end
// of input or on error; check Err.
func (s *VCFStream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		s.linesRead++
		rec, err := parseVariantLine(line, s.ncols, s.keep)
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if s.linesRead%100000 == 0 {
			log.Infof("read %d variant lines, retained %d (%s)", s.linesRead, s.linesRetained, rec.Label)
		}
		if !s.filter.passMAF(rec.Calls) {
			continue
		}
		if s.filter.DropUnknownPopulation && s.popOf != nil && !passKnownPopulations(rec.Calls, s.popOf, s.npops) {
			continue
		}
		if !s.filter.KeepInvariant && !passVariable(rec.Calls) {
			continue
		}
		s.linesRetained++
		s.rec = rec
		return true
	}
	s.err = s.scanner.Err()
	s.done = true
	metricLinesRead.Add(float64(s.linesRead))
	metricLinesRetained.Add(float64(s.linesRetained))
	return false
}

// Record returns the record read by the last successful call to Next.
func (s *VCFStream) Record() VariantRecord {
	return s.rec
}

func (s *VCFStream) Err() error {
	return s.err
}

// Stats returns the line counters. They are only available after Next
// has returned false without error.
func (s *VCFStream) Stats() (StreamStats, error) {
	if !s.done || s.err != nil {
		return StreamStats{}, ErrStreamNotConsumed
	}
	return StreamStats{LinesRead: s.linesRead, LinesRetained: s.linesRetained}, nil
}

// VCFFile is a VCFStream that owns its input file.
type VCFFile struct {
	*VCFStream
	io.Closer
}

// OpenVCF opens a plain, gzip, or zstd compressed VCF file.
func OpenVCF(fnm string, pops *Populations, filter VariantFilter) (*VCFFile, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	s, err := NewVCFStream(f, pops, filter)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return &VCFFile{VCFStream: s, Closer: f}, nil
}
