// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Populations maps individual IDs to population indices.
type Populations struct {
	Names  []string
	Member map[string]int
}

// ReadPopulations parses a membership file: one population per line,
// comma separated, population name first, then member IDs.
func ReadPopulations(r io.Reader) (*Populations, error) {
	pops := &Populations{Member: map[string]int{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<16), 1<<26)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		split := strings.Split(line, ",")
		name := strings.TrimSpace(split[0])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty population name", lineNum)
		}
		idx := len(pops.Names)
		pops.Names = append(pops.Names, name)
		for _, id := range split[1:] {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if prev, dup := pops.Member[id]; dup {
				log.Warnf("line %d: individual %q already in population %q, ignoring", lineNum, id, pops.Names[prev])
				continue
			}
			pops.Member[id] = idx
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pops, nil
}

func LoadPopulations(fnm string) (*Populations, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pops, err := ReadPopulations(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return pops, nil
}
