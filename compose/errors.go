package compose

import "fmt"

// CorruptDocumentError reports an input buffer that does not parse as a PDF.
// SourceIndex identifies which input of a multi-document operation failed.
type CorruptDocumentError struct {
	SourceIndex int
	Err         error
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("source %d: corrupt document: %v", e.SourceIndex, e.Err)
}

func (e *CorruptDocumentError) Unwrap() error { return e.Err }

// InvalidRangeError reports range bounds violating 1 <= start <= end <= pageCount.
type InvalidRangeError struct {
	Start, End, PageCount int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid page range [%d,%d] for %d-page document", e.Start, e.End, e.PageCount)
}

// PageIndexError reports a 0-based page index outside [0, pageCount).
type PageIndexError struct {
	Index, PageCount int
}

func (e *PageIndexError) Error() string {
	return fmt.Sprintf("page index %d out of range for %d-page document", e.Index, e.PageCount)
}

// InsufficientInputsError reports a merge with fewer than two documents.
type InsufficientInputsError struct {
	Count int
}

func (e *InsufficientInputsError) Error() string {
	return fmt.Sprintf("merge requires at least 2 documents, got %d", e.Count)
}

// SerializationError wraps a failure to linearize a composed document. It
// indicates an internal invariant violation: validation happens before any
// output is built.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return fmt.Sprintf("serialize output: %v", e.Err) }

func (e *SerializationError) Unwrap() error { return e.Err }
