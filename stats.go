// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Number of bins in the minor allele frequency histogram. Bin i holds
// sites with MAF in [i/20, (i+1)/20); MAF 0.5 goes in the last bin.
const mafBins = 10

type statscmd struct {
	container containerFlags
	filter    VariantFilter
}

type vcfStats struct {
	Individuals      int
	LinesRead        int
	LinesRetained    int
	MAFHistogram     []int
	GenotypeCounts   map[string]int
	MissingCalls     []int // per individual, in header order
	IndividualIDs    []string
	PopulationCounts map[string]int `json:",omitempty"`
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *statscmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data and metrics at http://`[addr]:port`")
	vcfFilename := flags.String("vcf", "", "input VCF `file` (.vcf, .vcf.gz, or .vcf.zst)")
	popsFilename := flags.String("populations", "", "population membership `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	flags.Float64Var(&cmd.filter.MinAlleleFrequency, "maf", 0, "drop sites with minor allele fraction below this threshold")
	flags.BoolVar(&cmd.filter.Exclusive, "maf-exclusive", false, "also drop sites with minor allele fraction equal to -maf")
	flags.BoolVar(&cmd.filter.DropUnknownPopulation, "drop-unknown-population", false, "drop sites where all members of some population have unknown genotypes")
	flags.BoolVar(&cmd.filter.KeepInvariant, "keep-invariant", true, "keep sites where all individuals have the same genotype")
	cmd.container.Flags(flags, 1, 16<<30)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	} else if *vcfFilename == "" {
		return errors.New("no input: specify -vcf file")
	}
	servePprof(*pprof)

	if !cmd.container.local {
		if *outputFilename != "-" {
			return errors.New("cannot specify output file in container mode: not implemented")
		}
		runner := cmd.container.Runner("asaph vcf-stats")
		err = runner.TranslatePaths(vcfFilename, popsFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"vcf-stats", "-local=true",
			"-vcf=" + *vcfFilename,
			"-populations=" + *popsFilename,
			fmt.Sprintf("-maf=%f", cmd.filter.MinAlleleFrequency),
			fmt.Sprintf("-maf-exclusive=%v", cmd.filter.Exclusive),
			fmt.Sprintf("-drop-unknown-population=%v", cmd.filter.DropUnknownPopulation),
			fmt.Sprintf("-keep-invariant=%v", cmd.filter.KeepInvariant),
			"-o=/mnt/output/stats.json"}
		output, err := runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/stats.json")
		return nil
	}

	var pops *Populations
	if *popsFilename != "" {
		pops, err = LoadPopulations(*popsFilename)
		if err != nil {
			return err
		}
	}
	vcf, err := OpenVCF(*vcfFilename, pops, cmd.filter)
	if err != nil {
		return err
	}
	defer vcf.Close()

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.Create(*outputFilename)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = doStats(vcf.VCFStream, pops, bufw)
	if err != nil {
		return fmt.Errorf("%s: %w", *vcfFilename, err)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func doStats(vcf *VCFStream, pops *Populations, output io.Writer) error {
	ret := vcfStats{
		Individuals:    len(vcf.Individuals()),
		IndividualIDs:  vcf.Individuals(),
		MAFHistogram:   make([]int, mafBins),
		MissingCalls:   make([]int, len(vcf.Individuals())),
		GenotypeCounts: map[string]int{},
	}
	if pops != nil {
		ret.PopulationCounts = map[string]int{}
		for _, pop := range vcf.PopulationOf() {
			ret.PopulationCounts[pops.Names[pop]]++
		}
	}
	for vcf.Next() {
		rec := vcf.Record()
		var ref, alt int
		for i, gc := range rec.Calls {
			ref += int(gc.Ref)
			alt += int(gc.Alt)
			switch {
			case gc == categoryCalls[HomozygousRef]:
				ret.GenotypeCounts["homozygous_ref"]++
			case gc == categoryCalls[HomozygousAlt]:
				ret.GenotypeCounts["homozygous_alt"]++
			case gc == categoryCalls[Heterozygous]:
				ret.GenotypeCounts["heterozygous"]++
			case gc.Unknown():
				ret.GenotypeCounts["unknown"]++
				ret.MissingCalls[i]++
			default:
				ret.GenotypeCounts["partial"]++
			}
		}
		minor := ref
		if alt < minor {
			minor = alt
		}
		bin := int(float64(minor) / float64(ref+alt) * 2 * mafBins)
		if bin >= mafBins {
			bin = mafBins - 1
		}
		ret.MAFHistogram[bin]++
	}
	if err := vcf.Err(); err != nil {
		return err
	}
	st, err := vcf.Stats()
	if err != nil {
		return err
	}
	ret.LinesRead, ret.LinesRetained = st.LinesRead, st.LinesRetained
	return json.NewEncoder(output).Encode(ret)
}
