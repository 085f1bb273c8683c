package bamsource

import (
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"

	"github.com/ericfournier2/metagene2/regions"
)

// Fragment is the genomic footprint of one alignment (or one reconstructed
// paired-end fragment): a half-open interval with a resolved strand.
type Fragment struct {
	Seq    string
	Start  int
	End    int
	Strand regions.Strand
}

// FetchOpts controls Fetch.
type FetchOpts struct {
	// Strand restricts the iterator to fragments on one strand. Any means
	// no filtering.
	Strand regions.Strand

	// PairedEnd reconstructs fragments as the outer envelope of mate pairs
	// (leftmost primary mate, span taken from the template length).
	PairedEnd bool

	// StrandMode selects which mate's strand a paired-end fragment takes:
	// 1 for read 1, 2 for read 2. Zero defaults to 2.
	StrandMode int

	// Lenient prunes regions on sequences absent from the file instead of
	// failing, and clips regions that extend past their reference end.
	Lenient bool
}

type bgzfChunk struct {
	begin, end bgzf.Offset
}

type span struct {
	ref    *sam.Reference
	start  int
	end    int
	chunks []bgzfChunk
}

// Iterator yields fragments overlapping a region set, in coordinate order
// per merged interval. A fragment spanning several intervals is yielded once.
// It owns its file handle; Close must be called exactly once. Thread
// compatible.
type Iterator struct {
	source *Source
	opts   FetchOpts

	in     *os.File
	reader *bam.Reader

	spans   []span
	spanIdx int
	seeking bool

	// End of the last finished span on prevRef. Records starting before it
	// were already visible to that span and must not be yielded again when
	// nearby spans share BGZF chunks.
	prevRef int
	prevEnd int

	cur Fragment
	err error
}

// Fetch returns a lazy iterator over the fragments of s that overlap the
// merged intervals of rs, subject to opts. Region validation follows
// ValidateRegions; a fresh file handle is opened per call so concurrent
// fetches never share readers.
func (s *Source) Fetch(rs *regions.RegionSet, opts FetchOpts) (*Iterator, error) {
	if opts.Strand == 0 {
		opts.Strand = regions.Any
	}
	if opts.StrandMode == 0 {
		opts.StrandMode = 2
	}
	if opts.StrandMode != 1 && opts.StrandMode != 2 {
		return nil, errors.Errorf("%s: paired-end strand mode must be 1 or 2, got %d", s.id, opts.StrandMode)
	}
	rs, err := s.ValidateRegions(rs, opts.Lenient)
	if err != nil {
		return nil, err
	}
	refs, _ := s.refByName(rs.SeqNames())

	var spans []span
	for _, m := range rs.Merged() {
		ref := refs[m.Seq]
		start, end := m.Start, m.End
		if end > ref.Len() {
			end = ref.Len()
		}
		if start >= end {
			continue
		}
		chunks, err := s.chunksFor(ref, start, end)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			continue
		}
		spans = append(spans, span{ref: ref, start: start, end: end, chunks: chunks})
	}

	it := &Iterator{source: s, opts: opts, spans: spans, seeking: true, prevRef: -1}
	if len(spans) == 0 {
		return it, nil
	}
	if it.in, err = os.Open(s.path); err != nil {
		return nil, errors.Wrapf(err, "%s: opening alignments", s.id)
	}
	if it.reader, err = bam.NewReader(it.in, 1); err != nil {
		it.in.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "%s: reading BAM", s.id)
	}
	return it, nil
}

// Scan advances to the next fragment, returning false at end of data or on
// error. Errors are reported by Err.
func (it *Iterator) Scan() bool {
	if it.err != nil || it.reader == nil {
		return false
	}
	for it.spanIdx < len(it.spans) {
		sp := it.spans[it.spanIdx]
		if it.seeking {
			if it.err = it.reader.Seek(sp.chunks[0].begin); it.err != nil {
				return false
			}
			it.seeking = false
		}
		rec, err := it.reader.Read()
		if err == io.EOF || (err == nil && (rec.Ref == nil || rec.Ref.ID() != sp.ref.ID() || rec.Pos >= sp.end)) {
			it.prevRef, it.prevEnd = sp.ref.ID(), sp.end
			it.spanIdx++
			it.seeking = true
			continue
		}
		if err != nil {
			it.err = errors.Wrapf(err, "%s: reading alignments", it.source.id)
			return false
		}
		// Records starting before the previous span's end were already read
		// there; yielding them again would double-count coverage.
		if sp.ref.ID() == it.prevRef && rec.Pos < it.prevEnd {
			continue
		}
		frag, ok := it.resolve(rec)
		if !ok || frag.End <= sp.start || frag.Start >= sp.end {
			continue
		}
		if it.opts.Strand != regions.Any && frag.Strand != it.opts.Strand {
			continue
		}
		it.cur = frag
		return true
	}
	return false
}

// Fragment returns the current fragment. Valid only after Scan returned
// true.
func (it *Iterator) Fragment() Fragment { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the iterator's file handle and returns Err().
func (it *Iterator) Close() error {
	if it.reader != nil {
		if err := it.reader.Close(); err != nil && it.err == nil {
			it.err = err
		}
		it.reader = nil
	}
	if it.in != nil {
		if err := it.in.Close(); err != nil && it.err == nil {
			it.err = err
		}
		it.in = nil
	}
	return it.err
}

// resolve converts a raw record into a fragment, applying primary-alignment
// filtering and paired-end reconstruction.
func (it *Iterator) resolve(rec *sam.Record) (Fragment, bool) {
	const skip = sam.Unmapped | sam.Secondary | sam.Supplementary | sam.QCFail
	if rec.Flags&skip != 0 {
		return Fragment{}, false
	}
	if !it.opts.PairedEnd {
		return Fragment{
			Seq:    rec.Ref.Name(),
			Start:  rec.Pos,
			End:    rec.End(),
			Strand: recStrand(rec.Flags&sam.Reverse != 0),
		}, true
	}
	// Paired-end: take the leftmost mate of each proper pair, once, and use
	// the template length for the fragment envelope.
	if rec.Flags&sam.Paired == 0 || rec.Flags&sam.ProperPair == 0 ||
		rec.Flags&sam.MateUnmapped != 0 || rec.TempLen <= 0 {
		return Fragment{}, false
	}
	selfStrand := recStrand(rec.Flags&sam.Reverse != 0)
	mateStrand := recStrand(rec.Flags&sam.MateReverse != 0)
	read1Strand, read2Strand := selfStrand, mateStrand
	if rec.Flags&sam.Read2 != 0 {
		read1Strand, read2Strand = mateStrand, selfStrand
	}
	strand := read2Strand
	if it.opts.StrandMode == 1 {
		strand = read1Strand
	}
	return Fragment{
		Seq:    rec.Ref.Name(),
		Start:  rec.Pos,
		End:    rec.Pos + rec.TempLen,
		Strand: strand,
	}, true
}

func recStrand(reverse bool) regions.Strand {
	if reverse {
		return regions.Minus
	}
	return regions.Plus
}
