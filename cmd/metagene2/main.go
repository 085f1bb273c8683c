// metagene2 aggregates read coverage from indexed BAM files over groups of
// genomic regions, bins it into fixed-width profiles, and reports bootstrap
// confidence intervals as a TSV table.
package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/ericfournier2/metagene2/design"
	"github.com/ericfournier2/metagene2/metagene"
	"github.com/ericfournier2/metagene2/regions"
)

type cliargs struct {
	Regions     string   `arg:"--regions,required" help:"region table: seq start end [strand] [name] [group], whitespace-separated"`
	Design      string   `arg:"--design" help:"design table: header 'source <group>...', one row per source with roles 0/1/2"`
	Out         string   `arg:"-o,--out" help:"output TSV path (default stdout)"`
	Bins        int      `arg:"--bins" default:"100" help:"bins per region"`
	Alpha       float64  `arg:"--alpha" default:"0.05" help:"CI miscoverage rate"`
	Samples     int      `arg:"--samples" default:"1000" help:"bootstrap resample count"`
	Strategy    string   `arg:"--strategy" default:"by_region" help:"resampling strategy: by_region or by_source"`
	Seed        int64    `arg:"--seed" help:"bootstrap RNG seed (0 = time-derived)"`
	Extend      int      `arg:"--extend" help:"extend each fragment to this width from its 5' end"`
	Padding     int      `arg:"--padding" help:"widen every region by this many bases on each side"`
	Stranded    bool     `arg:"--stranded" help:"keep per-strand coverage and bin regions against their own strand"`
	Paired      bool     `arg:"--paired" help:"reconstruct paired-end fragments from proper pairs"`
	StrandMode  int      `arg:"--strand-mode" default:"2" help:"paired-end strand from read 1 or read 2"`
	Norm        string   `arg:"--normalization" help:"coverage normalization: RPM or empty"`
	Noise       string   `arg:"--noise-removal" help:"control subtraction: NCIS or empty"`
	Cores       int      `arg:"--cores" help:"worker count (0 = all CPUs)"`
	Lenient     bool     `arg:"--lenient" help:"prune regions on unknown sequences instead of failing"`
	BAMs        []string `arg:"positional,required" help:"indexed BAM files; <id>=<path> assigns a source id"`
}

func (cliargs) Description() string {
	return "compute binned metagene coverage profiles with bootstrap confidence intervals"
}

func main() {
	var args cliargs
	arg.MustParse(&args)
	if err := run(args); err != nil {
		vlog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args cliargs) error {
	sources, ids, err := openSources(args.BAMs)
	if err != nil {
		return err
	}
	input, err := readRegions(args.Regions)
	if err != nil {
		return err
	}
	var d *design.Design
	if args.Design != "" {
		if d, err = readDesign(args.Design, ids); err != nil {
			return err
		}
	}

	p, err := metagene.NewPipeline(sources, input, d, metagene.Opts{
		Padding: args.Padding,
		Lenient: args.Lenient,
	})
	if err != nil {
		return err
	}
	if err := configure(p, args); err != nil {
		return err
	}

	rows, err := p.Table()
	if err != nil {
		return err
	}
	return writeTable(args.Out, rows)
}

func configure(p *metagene.Pipeline, args cliargs) error {
	s := p.Params()
	if err := s.SetBinCount(args.Bins); err != nil {
		return err
	}
	if err := s.SetAlpha(args.Alpha); err != nil {
		return err
	}
	if err := s.SetSampleCount(args.Samples); err != nil {
		return err
	}
	if err := s.SetResamplingStrategy(args.Strategy); err != nil {
		return err
	}
	if args.Seed != 0 {
		s.SetSeed(args.Seed)
	}
	if err := s.SetExtend(args.Extend); err != nil {
		return err
	}
	s.SetStrandSpecific(args.Stranded)
	s.SetPairedEnd(args.Paired)
	if err := s.SetPairedEndStrandMode(args.StrandMode); err != nil {
		return err
	}
	if err := s.SetNormalization(args.Norm); err != nil {
		return err
	}
	if err := s.SetNoiseRemoval(args.Noise); err != nil {
		return err
	}
	cores := args.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return s.SetCoreCount(cores)
}

// openSources opens each BAM argument, accepting either a bare path (the
// source id is the path) or an explicit <id>=<path>.
func openSources(specs []string) ([]metagene.Extractor, []string, error) {
	sources := make([]metagene.Extractor, 0, len(specs))
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id, path := spec, spec
		if i := strings.IndexByte(spec, '='); i > 0 {
			id, path = spec[:i], spec[i+1:]
		}
		src, err := metagene.NewBAMExtractor(id, path, "")
		if err != nil {
			return nil, nil, errors.Wrap(err, path)
		}
		sources = append(sources, src)
		ids = append(ids, id)
	}
	return sources, ids, nil
}

// readRegions parses a whitespace-separated region table. Columns beyond
// seq/start/end are optional; "." leaves a field at its default.
func readRegions(path string) (regions.Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return regions.Input{}, err
	}
	defer f.Close()

	var rs []regions.Region
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return regions.Input{}, errors.Errorf("%s:%d: expected at least seq, start, end", path, line)
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return regions.Input{}, errors.Wrapf(err, "%s:%d: start", path, line)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return regions.Input{}, errors.Wrapf(err, "%s:%d: end", path, line)
		}
		r := regions.Region{Seq: fields[0], Start: start, End: end}
		if len(fields) > 3 && fields[3] != "." {
			switch fields[3] {
			case "+":
				r.Strand = regions.Plus
			case "-":
				r.Strand = regions.Minus
			case "*":
				r.Strand = regions.Any
			default:
				return regions.Input{}, errors.Errorf("%s:%d: bad strand %q", path, line, fields[3])
			}
		}
		if len(fields) > 4 && fields[4] != "." {
			r.Name = fields[4]
		}
		if len(fields) > 5 && fields[5] != "." {
			r.Group = fields[5]
		}
		rs = append(rs, r)
	}
	if err := sc.Err(); err != nil {
		return regions.Input{}, err
	}
	vlog.VI(1).Infof("read %d regions from %s", len(rs), path)
	return regions.FromRegions(rs), nil
}

// readDesign parses the design table. The header names the groups; each row
// is a source id followed by one role per group (0 ignore, 1 input,
// 2 control).
func readDesign(path string, ids []string) (*design.Design, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, errors.Errorf("%s: empty design file", path)
	}
	header := strings.Fields(sc.Text())
	if len(header) < 2 {
		return nil, errors.Errorf("%s: header needs a source column and at least one group", path)
	}
	groups := header[1:]

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	var srcs []string
	var cells [][]design.Role
	for line := 2; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(groups)+1 {
			return nil, errors.Errorf("%s:%d: expected %d columns, got %d", path, line, len(groups)+1, len(fields))
		}
		if !known[fields[0]] {
			return nil, errors.Errorf("%s:%d: unknown source %q", path, line, fields[0])
		}
		row := make([]design.Role, len(groups))
		for i, cell := range fields[1:] {
			v, err := strconv.Atoi(cell)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: role", path, line)
			}
			row[i] = design.Role(v)
		}
		srcs = append(srcs, fields[0])
		cells = append(cells, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return design.New(srcs, groups, cells)
}

func writeTable(path string, rows []metagene.Row) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	fmt.Fprintln(w, "region_group\tdesign_group\tbin_index\tposition_label\tmean\tci_lower\tci_upper")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%g\t%g\t%g\n",
			r.RegionGroup, r.DesignGroup, r.Bin, r.PositionLabel, r.Mean, r.Lower, r.Upper)
	}
	return w.Flush()
}
