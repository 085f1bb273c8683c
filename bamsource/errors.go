package bamsource

import (
	"fmt"
	"strings"
)

// MissingFileError reports a data or index file that does not exist at
// construction time. It is fatal before any parallel work is dispatched.
type MissingFileError struct {
	Path string
}

func (e MissingFileError) Error() string {
	return fmt.Sprintf("%s: file does not exist", e.Path)
}

// MalformedIndexError reports a BAI index that exists but cannot be parsed.
type MalformedIndexError struct {
	Path string
	Err  error
}

func (e MalformedIndexError) Error() string {
	return fmt.Sprintf("%s: malformed index: %v", e.Path, e.Err)
}

func (e MalformedIndexError) Unwrap() error { return e.Err }

// SequenceMismatchError reports requested sequence names that are absent
// from the alignment file's reference set.
type SequenceMismatchError struct {
	Source  string
	Missing []string
}

func (e SequenceMismatchError) Error() string {
	return fmt.Sprintf("%s: sequences not in file references: %s",
		e.Source, strings.Join(e.Missing, ", "))
}

// RegionBoundsError reports a requested region extending past the end of
// its reference sequence.
type RegionBoundsError struct {
	Source string
	Seq    string
	End    int
	RefLen int
}

func (e RegionBoundsError) Error() string {
	return fmt.Sprintf("%s: region end %d exceeds length %d of sequence %s",
		e.Source, e.End, e.RefLen, e.Seq)
}
