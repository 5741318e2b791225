// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"context"
	"flag"
	"fmt"
	"sync"
)

// batchArgs splits a list of jobs into batches that can run in
// separate processes or containers.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

func (b *batchArgs) Args(batch int) []string {
	return []string{
		fmt.Sprintf("-batches=%d", b.batches),
		fmt.Sprintf("-batch=%d", batch),
	}
}

// RunBatches calls runFunc once per batch, concurrently, and returns a
// slice of return values and the first returned error, if any.
func (b *batchArgs) RunBatches(ctx context.Context, runFunc func(context.Context, int) (string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outputs := make([]string, b.batches)
	var wg WaitGroup
	for batch := 0; batch < b.batches; batch++ {
		if b.batch >= 0 && b.batch != batch {
			continue
		}
		batch := batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := runFunc(ctx, batch)
			outputs[batch] = out
			if err != nil {
				wg.Error(err)
				cancel()
			}
		}()
	}
	err := wg.Wait()
	if b.batch >= 0 {
		outputs = outputs[b.batch : b.batch+1]
	}
	return outputs, err
}

// Range returns the [start, end) range of jobs, out of n, that
// belong to the selected batch (all of them if no batch is selected).
func (b *batchArgs) Range(n int) (int, int) {
	if b.batches < 1 || b.batch < 0 {
		return 0, n
	}
	size := (n + b.batches - 1) / b.batches
	start := size * b.batch
	if start > n {
		start = n
	}
	end := start + size
	if end > n {
		end = n
	}
	return start, end
}

// WaitGroup is a sync.WaitGroup that also records the first error
// reported by any of the goroutines.
type WaitGroup struct {
	sync.WaitGroup
	err     error
	errOnce sync.Once
}

func (wg *WaitGroup) Error(err error) {
	if err != nil {
		wg.errOnce.Do(func() { wg.err = err })
	}
}

func (wg *WaitGroup) Wait() error {
	wg.WaitGroup.Wait()
	return wg.err
}
