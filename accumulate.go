// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var ErrColumnLength = errors.New("feature column length does not match number of individuals")

// Accumulator builds a feature matrix (one row per individual) from a
// single pass over a column stream.
type Accumulator interface {
	Transform(src ColumnSource, rows int) (*mat.Dense, *FeatureIndex, error)
	Name() string
}

// LabelHasher maps a feature label string to a non-negative hash
// value.
type LabelHasher func(string) uint64

// Murmur3Hash returns the absolute value of the signed 32-bit
// MurmurHash3 (seed 0) of s.
func Murmur3Hash(s string) uint64 {
	h := int64(int32(murmur3.Sum32([]byte(s))))
	if h < 0 {
		h = -h
	}
	return uint64(h)
}

func XXHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

func ParseHash(name string) (LabelHasher, error) {
	switch name {
	case "murmur3":
		return Murmur3Hash, nil
	case "xxhash":
		return XXHash, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q (expected murmur3 or xxhash)", name)
	}
}

// Number of columns between progress log messages.
const accumulateLogInterval = 10000

func checkColumn(col FeatureColumn, rows int) error {
	if len(col.Values) != rows {
		return fmt.Errorf("%s: %w: %d != %d", col.Label, ErrColumnLength, len(col.Values), rows)
	}
	return nil
}

// FullAccumulator keeps every column.
type FullAccumulator struct {
	Compress bool
}

func (acc *FullAccumulator) Name() string { return "full" }

func (acc *FullAccumulator) Transform(src ColumnSource, rows int) (*mat.Dense, *FeatureIndex, error) {
	b := newIndexBuilder(acc.Compress)
	n := 0
	for src.Next() {
		col := src.Column()
		if err := checkColumn(col, rows); err != nil {
			return nil, nil, err
		}
		b.Add(col.Label, col.Values)
		n++
		if n%accumulateLogInterval == 0 {
			log.Infof("full: %d columns read, %d kept", n, len(b.values))
		}
	}
	if err := src.Err(); err != nil {
		return nil, nil, err
	}
	log.Infof("full: %d columns read, %d kept", n, len(b.values))
	metricColumns.WithLabelValues(acc.Name()).Add(float64(len(b.values)))
	return b.Matrix(rows), b.index, nil
}

// ReservoirAccumulator keeps a uniform random sample of K columns.
type ReservoirAccumulator struct {
	K        int
	Rand     *rand.Rand
	Compress bool
}

func (acc *ReservoirAccumulator) Name() string { return "reservoir" }

func (acc *ReservoirAccumulator) Transform(src ColumnSource, rows int) (*mat.Dense, *FeatureIndex, error) {
	if acc.K < 1 {
		return nil, nil, fmt.Errorf("reservoir size %d < 1", acc.K)
	}
	reservoir := make([]FeatureColumn, 0, acc.K)
	i := 0
	for ; src.Next(); i++ {
		col := src.Column()
		if err := checkColumn(col, rows); err != nil {
			return nil, nil, err
		}
		if i < acc.K {
			reservoir = append(reservoir, col)
		} else if j := acc.Rand.Intn(i + 1); j < acc.K {
			reservoir[j] = col
		}
		if (i+1)%accumulateLogInterval == 0 {
			log.Infof("reservoir: %d columns read", i+1)
		}
	}
	if err := src.Err(); err != nil {
		return nil, nil, err
	}
	log.Infof("reservoir: %d columns read, %d sampled", i, len(reservoir))
	b := newIndexBuilder(acc.Compress)
	for _, col := range reservoir {
		b.Add(col.Label, col.Values)
	}
	metricColumns.WithLabelValues(acc.Name()).Add(float64(len(b.values)))
	return b.Matrix(rows), b.index, nil
}

// HashingAccumulator sums each column into one of K buckets chosen by
// hashing its label. Only buckets that receive at least one column
// appear in the output, in the order first used.
type HashingAccumulator struct {
	K    int
	Hash LabelHasher

	bucketCounts []int
}

func (acc *HashingAccumulator) Name() string { return "hashing" }

// BucketCounts returns the number of input columns assigned to each
// bucket by the last call to Transform.
func (acc *HashingAccumulator) BucketCounts() []int {
	return acc.bucketCounts
}

func (acc *HashingAccumulator) Transform(src ColumnSource, rows int) (*mat.Dense, *FeatureIndex, error) {
	if acc.K < 1 {
		return nil, nil, fmt.Errorf("number of hash buckets %d < 1", acc.K)
	}
	hash := acc.Hash
	if hash == nil {
		hash = Murmur3Hash
	}
	acc.bucketCounts = make([]int, acc.K)
	var (
		order  []int
		sums   = map[int][]float64{}
		labels = map[int][]FeatureLabel{}
		n      int
	)
	for src.Next() {
		col := src.Column()
		if err := checkColumn(col, rows); err != nil {
			return nil, nil, err
		}
		bucket := int(hash(col.Label.String()) % uint64(acc.K))
		sum, ok := sums[bucket]
		if !ok {
			sum = make([]float64, rows)
			sums[bucket] = sum
			order = append(order, bucket)
		}
		for i, v := range col.Values {
			sum[i] += v
		}
		labels[bucket] = append(labels[bucket], col.Label)
		acc.bucketCounts[bucket]++
		n++
		if n%accumulateLogInterval == 0 {
			log.Infof("hashing: %d columns read, %d buckets used", n, len(order))
		}
	}
	if err := src.Err(); err != nil {
		return nil, nil, err
	}
	acc.logBuckets(n)

	b := newIndexBuilder(false)
	for _, bucket := range order {
		lbls := labels[bucket]
		col := b.Add(lbls[0], sums[bucket])
		for _, l := range lbls[1:] {
			b.index.add(l, col)
		}
	}
	metricColumns.WithLabelValues(acc.Name()).Add(float64(len(b.values)))
	return b.Matrix(rows), b.index, nil
}

func (acc *HashingAccumulator) logBuckets(n int) {
	used, collided, largest := 0, 0, 0
	for bucket, count := range acc.bucketCounts {
		if count > 0 {
			used++
			log.Debugf("hashing: bucket %d: %d columns", bucket, count)
		}
		if count > 1 {
			collided++
		}
		if count > largest {
			largest = count
		}
	}
	log.WithFields(log.Fields{
		"columns":  n,
		"buckets":  acc.K,
		"used":     used,
		"collided": collided,
		"largest":  largest,
	}).Info("hashing: bucket summary")
}

// BottomKAccumulator keeps the K columns whose label hashes are
// smallest. Ties are broken by arrival order.
type BottomKAccumulator struct {
	K        int
	Hash     LabelHasher
	Compress bool
}

func (acc *BottomKAccumulator) Name() string { return "bottom-k" }

type hashedColumn struct {
	hash uint64
	seq  int
	col  FeatureColumn
}

func (hc hashedColumn) less(other hashedColumn) bool {
	if hc.hash != other.hash {
		return hc.hash < other.hash
	}
	return hc.seq < other.seq
}

// maxHeap keeps the largest (hash, seq) at the root.
type maxHeap []hashedColumn

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[j].less(h[i]) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(hashedColumn)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

func (acc *BottomKAccumulator) Transform(src ColumnSource, rows int) (*mat.Dense, *FeatureIndex, error) {
	if acc.K < 1 {
		return nil, nil, fmt.Errorf("sketch size %d < 1", acc.K)
	}
	hash := acc.Hash
	if hash == nil {
		hash = Murmur3Hash
	}
	h := make(maxHeap, 0, acc.K)
	seq := 0
	for ; src.Next(); seq++ {
		col := src.Column()
		if err := checkColumn(col, rows); err != nil {
			return nil, nil, err
		}
		hc := hashedColumn{hash: hash(col.Label.String()), seq: seq, col: col}
		if len(h) < acc.K {
			heap.Push(&h, hc)
		} else if hc.less(h[0]) {
			h[0] = hc
			heap.Fix(&h, 0)
		}
		if (seq+1)%accumulateLogInterval == 0 {
			log.Infof("bottom-k: %d columns read", seq+1)
		}
	}
	if err := src.Err(); err != nil {
		return nil, nil, err
	}
	log.Infof("bottom-k: %d columns read, %d kept", seq, len(h))
	sort.Slice(h, func(i, j int) bool { return h[i].less(h[j]) })
	b := newIndexBuilder(acc.Compress)
	for _, hc := range h {
		b.Add(hc.col.Label, hc.col.Values)
	}
	metricColumns.WithLabelValues(acc.Name()).Add(float64(len(b.values)))
	return b.Matrix(rows), b.index, nil
}

// SamplingConfig selects and configures an accumulation strategy.
type SamplingConfig struct {
	Strategy string
	Features int
	Compress bool
	Hash     string
	Seed     uint64
}

func (cfg SamplingConfig) Accumulator() (Accumulator, error) {
	hash, err := ParseHash(cfg.Hash)
	if err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case "full":
		return &FullAccumulator{Compress: cfg.Compress}, nil
	case "reservoir":
		return &ReservoirAccumulator{K: cfg.Features, Rand: rand.New(rand.NewSource(cfg.Seed)), Compress: cfg.Compress}, nil
	case "hashing":
		if cfg.Compress {
			return nil, errors.New("compression is not supported with feature hashing")
		}
		return &HashingAccumulator{K: cfg.Features, Hash: hash}, nil
	case "bottom-k":
		return &BottomKAccumulator{K: cfg.Features, Hash: hash, Compress: cfg.Compress}, nil
	default:
		return nil, fmt.Errorf("unknown sampling strategy %q (expected full, reservoir, hashing, or bottom-k)", cfg.Strategy)
	}
}
