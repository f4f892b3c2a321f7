package engine

import (
	"errors"
	"fmt"

	"github.com/drummonds/pagerender/engine/pdfrenderer"
)

// Sentinel errors for engine operations.
var (
	ErrSourceOpen        = errors.New("document source cannot be opened")
	ErrPoolTimeout       = errors.New("timed out waiting for a renderer")
	ErrPoolClosed        = errors.New("renderer pool is closed")
	ErrResourceRelease   = errors.New("renderer could not be returned to the pool")
	ErrNoDocument        = errors.New("no document loaded")
	ErrInvalidDimensions = errors.New("width and height must be positive")

	// Re-exported from the backends so callers only import engine.
	ErrPageIndexOutOfRange = pdfrenderer.ErrPageIndexOutOfRange
	ErrNativeRender        = pdfrenderer.ErrNativeRender
)

// RenderError records which operation and page failed
type RenderError struct {
	Op   string
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s page %d: %v", e.Op, e.Page, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func wrapPageError(op string, page int, err error) error {
	if err == nil {
		return nil
	}
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	return &RenderError{Op: op, Page: page, Err: err}
}
