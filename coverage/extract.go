package coverage

import (
	"github.com/pkg/errors"

	"github.com/ericfournier2/metagene2/bamsource"
	"github.com/ericfournier2/metagene2/regions"
)

// Options controls fragment-to-coverage extraction.
type Options struct {
	// StrandSpecific splits coverage into per-strand buckets instead of a
	// single unstranded one.
	StrandSpecific bool

	// PairedEnd reconstructs fragments from mate pairs; see
	// bamsource.FetchOpts.
	PairedEnd bool

	// PairedEndStrandMode selects the mate whose strand a fragment takes
	// (1 or 2; zero defaults to 2).
	PairedEndStrandMode int

	// Extend resizes each fragment to this fixed width, anchored at its 5'
	// start in fragment orientation. Zero disables extension.
	Extend int

	// Weight scales every run value after accumulation. Values <= 0 mean 1
	// (raw coverage); RPM extraction passes 1e6 / aligned count.
	Weight float64

	// Lenient downgrades sequence-name mismatches to pruning.
	Lenient bool
}

// Profile maps strand buckets to coverage tracks. Buckets that received no
// fragments are absent rather than zero-filled.
type Profile map[regions.Strand]*Track

// FragmentIter is the alignment stream consumed by Accumulate. It is
// satisfied by *bamsource.Iterator.
type FragmentIter interface {
	Scan() bool
	Fragment() bamsource.Fragment
	Err() error
	Close() error
}

// Extract computes the coverage profile of src over rs. It fetches fragments
// once, routes each to its strand bucket, accumulates run-length tracks, and
// applies the weight.
func Extract(src *bamsource.Source, rs *regions.RegionSet, opts Options) (Profile, error) {
	if opts.Extend < 0 {
		return nil, errors.Errorf("%s: extend must be non-negative, got %d", src.ID(), opts.Extend)
	}
	it, err := src.Fetch(rs, bamsource.FetchOpts{
		PairedEnd:  opts.PairedEnd,
		StrandMode: opts.PairedEndStrandMode,
		Lenient:    opts.Lenient,
	})
	if err != nil {
		return nil, err
	}
	prof, err := Accumulate(it, opts)
	if err != nil {
		return nil, errors.Wrap(err, src.ID())
	}
	return prof, nil
}

// Accumulate drains iter into a per-bucket coverage profile per opts. It
// closes iter before returning.
func Accumulate(iter FragmentIter, opts Options) (Profile, error) {
	builders := map[regions.Strand]*Builder{}
	for iter.Scan() {
		frag := iter.Fragment()
		start, end := frag.Start, frag.End
		if opts.Extend > 0 {
			if frag.Strand == regions.Minus {
				start = end - opts.Extend
			} else {
				end = start + opts.Extend
			}
		}
		bucket := regions.Any
		if opts.StrandSpecific {
			bucket = frag.Strand
		}
		b, ok := builders[bucket]
		if !ok {
			b = NewBuilder()
			builders[bucket] = b
		}
		b.AddFootprint(frag.Seq, start, end)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	weight := opts.Weight
	if weight <= 0 {
		weight = 1
	}
	prof := Profile{}
	for bucket, b := range builders {
		t := b.Build()
		if t.Empty() {
			continue
		}
		if weight != 1 {
			t.Scale(weight)
		}
		prof[bucket] = t
	}
	return prof, nil
}
