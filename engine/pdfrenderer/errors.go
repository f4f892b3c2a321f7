package pdfrenderer

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every backend.
var (
	ErrPageIndexOutOfRange = errors.New("page index out of range")
	ErrNativeRender        = errors.New("native render failed")
	ErrPageAlreadyOpen     = errors.New("document already has an open page")
	ErrDocumentClosed      = errors.New("document is closed")
	ErrPageClosed          = errors.New("page is closed")
)

// IndexError reports a page index outside [0, PageCount)
type IndexError struct {
	Index     int
	PageCount int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("page %d not in [0, %d)", e.Index, e.PageCount)
}

// Unwrap lets errors.Is match ErrPageIndexOutOfRange
func (e *IndexError) Unwrap() error {
	return ErrPageIndexOutOfRange
}

// checkIndex validates a page index against a page count
func checkIndex(index, pageCount int) error {
	if index < 0 || index >= pageCount {
		return &IndexError{Index: index, PageCount: pageCount}
	}
	return nil
}

// nativeError wraps a backend failure so errors.Is matches both ErrNativeRender
// and the backend cause
func nativeError(backend string, index int, err error) error {
	return fmt.Errorf("%w: %s page %d: %w", ErrNativeRender, backend, index, err)
}
