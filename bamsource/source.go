// Package bamsource wraps one indexed BAM file behind the pipeline's
// alignment-source contract: a memoized aligned-read count taken from the
// BAI statistics, and lazy iteration of strand-filtered, optionally
// paired-end-reconstructed fragments over a region set.
package bamsource

import (
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/ericfournier2/metagene2/regions"
)

// Source is one indexed BAM file. It is safe for concurrent use: every
// Fetch opens its own file handle, and all fields are immutable after New.
type Source struct {
	id           string
	path         string
	indexPath    string
	header       *sam.Header
	index        *bam.Index
	alignedCount uint64
}

// FindIndex locates the companion BAI for a BAM path: first path + ".bai",
// then the path with its extension replaced by ".bai". It returns
// MissingFileError naming the suffix form if neither exists.
func FindIndex(path string) (string, error) {
	suffixed := path + ".bai"
	if _, err := os.Stat(suffixed); err == nil {
		return suffixed, nil
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		replaced := path[:i] + ".bai"
		if _, err := os.Stat(replaced); err == nil {
			return replaced, nil
		}
	}
	return "", MissingFileError{Path: suffixed}
}

// New opens and validates a BAM source. Both the data file and its index
// must exist; indexPath may be empty, in which case it is located next to
// path. The index is parsed once and the aligned-read count memoized.
func New(id, path, indexPath string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, MissingFileError{Path: path}
	}
	if indexPath == "" {
		var err error
		if indexPath, err = FindIndex(path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(indexPath); err != nil {
		return nil, MissingFileError{Path: indexPath}
	}

	idxIn, err := os.Open(indexPath)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: opening index", id)
	}
	defer idxIn.Close() // nolint: errcheck
	idx, err := bam.ReadIndex(idxIn)
	if err != nil {
		return nil, MalformedIndexError{Path: indexPath, Err: err}
	}

	in, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: opening alignments", id)
	}
	defer in.Close() // nolint: errcheck
	br, err := bam.NewReader(in, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: reading BAM header", id)
	}
	header := br.Header()

	s := &Source{
		id:        id,
		path:      path,
		indexPath: indexPath,
		header:    header,
		index:     idx,
	}
	s.alignedCount = countAligned(idx, br, id)
	if err := br.Close(); err != nil {
		return nil, errors.Wrapf(err, "%s: closing BAM reader", id)
	}
	return s, nil
}

// countAligned sums the mapped-read counts recorded in the index metadata.
// Indexes written without the statistics pseudo-bin force a full scan.
func countAligned(idx *bam.Index, br *bam.Reader, id string) uint64 {
	var total uint64
	haveStats := false
	for i := 0; i < idx.NumRefs(); i++ {
		if stats, ok := idx.ReferenceStats(i); ok {
			haveStats = true
			total += stats.Mapped
		}
	}
	if haveStats {
		return total
	}
	vlog.Infof("%s: index carries no reference statistics, counting by full scan", id)
	total = 0
	for {
		rec, err := br.Read()
		if err != nil {
			break
		}
		if rec.Flags&sam.Unmapped == 0 {
			total++
		}
	}
	return total
}

// ID returns the source's unique identifier.
func (s *Source) ID() string { return s.id }

// Path returns the BAM file path.
func (s *Source) Path() string { return s.path }

// AlignedCount returns the number of mapped reads in the file, memoized at
// construction from the index statistics.
func (s *Source) AlignedCount() uint64 { return s.alignedCount }

// Header returns the cached SAM header. Callers must not modify it.
func (s *Source) Header() *sam.Header { return s.header }

// refByName returns the header reference for each distinct sequence name in
// names, and the list of names with no matching reference.
func (s *Source) refByName(names []string) (map[string]*sam.Reference, []string) {
	refs := map[string]*sam.Reference{}
	for _, ref := range s.header.Refs() {
		refs[ref.Name()] = ref
	}
	out := map[string]*sam.Reference{}
	var missing []string
	for _, n := range names {
		if ref, ok := refs[n]; ok {
			out[n] = ref
		} else {
			missing = append(missing, n)
		}
	}
	return out, missing
}

// chunksFor returns the index chunks overlapping [start, end) on ref, or nil
// when the reference has no indexed reads in that window.
func (s *Source) chunksFor(ref *sam.Reference, start, end int) ([]bgzfChunk, error) {
	chunks, err := s.index.Chunks(ref, start, end)
	if err == index.ErrInvalid {
		return nil, nil
	}
	if err != nil {
		return nil, MalformedIndexError{Path: s.indexPath, Err: err}
	}
	out := make([]bgzfChunk, len(chunks))
	for i, c := range chunks {
		out[i] = bgzfChunk{begin: c.Begin, end: c.End}
	}
	return out, nil
}

// ValidateRegions checks rs against the file's reference set. In strict mode
// any absent sequence name is a SequenceMismatchError and any region past
// its reference end is a RegionBoundsError. In lenient mode absent-sequence
// regions are pruned (EmptyRegionSetError if nothing remains) and
// out-of-bounds regions are reported by the iterator as clipped.
func (s *Source) ValidateRegions(rs *regions.RegionSet, lenient bool) (*regions.RegionSet, error) {
	refs, missing := s.refByName(rs.SeqNames())
	if len(missing) > 0 {
		if !lenient {
			return nil, SequenceMismatchError{Source: s.id, Missing: missing}
		}
		vlog.Infof("%s: dropping regions on %d sequences absent from file", s.id, len(missing))
		keep := map[string]bool{}
		for name := range refs {
			keep[name] = true
		}
		pruned, err := rs.Prune(keep)
		if err != nil {
			return nil, err
		}
		rs = pruned
	}
	if !lenient {
		for _, r := range rs.Regions() {
			if ref := refs[r.Seq]; r.End > ref.Len() {
				return nil, RegionBoundsError{Source: s.id, Seq: r.Seq, End: r.End, RefLen: ref.Len()}
			}
		}
	}
	return rs, nil
}
