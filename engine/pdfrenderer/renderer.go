package pdfrenderer

import (
	"fmt"
	"image"
	"io"
	"strings"
)

// RenderMode selects the quality profile a backend renders with
type RenderMode int

const (
	// ModeDisplay renders for on-screen viewing
	ModeDisplay RenderMode = iota
	// ModePrint renders for print output
	ModePrint
)

// Matrix scales a page from source units (points) into raster pixels and then
// offsets it inside the destination raster
type Matrix struct {
	SX, SY float64
	TX, TY float64
}

// Scale returns a Matrix with independent horizontal and vertical scale factors
func Scale(sx, sy float64) Matrix {
	return Matrix{SX: sx, SY: sy}
}

// Document is one independent rendering context opened against a document.
// A Document is not safe for use by more than one goroutine at a time.
type Document interface {
	// PageCount returns the number of pages in the document
	PageCount() int

	// OpenPage opens the page at index. Only one page may be open at a time.
	OpenPage(index int) (Page, error)

	// Close releases the document; closing twice is a no-op
	Close() error
}

// Page is a transient open page of a Document
type Page interface {
	// Width and Height return the page size in points
	Width() float64
	Height() float64

	// Render draws the page into dst using m. When clip is non-nil only the
	// pixels inside clip are touched.
	Render(dst *image.RGBA, clip *image.Rectangle, m Matrix, mode RenderMode) error

	// Close releases the page; closing twice is a no-op
	Close() error
}

// Opener creates Document handles from an access path. Backends that hold
// process-wide resources also implement io.Closer.
type Opener interface {
	Open(access Access) (Document, error)
}

// OpenerFunc adapts a plain function to the Opener interface
type OpenerFunc func(access Access) (Document, error)

// Open calls f(access)
func (f OpenerFunc) Open(access Access) (Document, error) {
	return f(access)
}

// NewRaster allocates a fresh 32 bits per pixel raster of exactly width x height
func NewRaster(width, height int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// NewOpener creates the Opener for the named backend.
// poolSize sizes backend-side worker pools (pdfium); it is ignored otherwise.
// The fake backend ignores the document bytes and reports fakePages pages
// for every document (at least 1).
func NewOpener(backend string, poolSize, fakePages int) (Opener, error) {
	switch strings.ToLower(backend) {
	case "", "fitz", "mupdf":
		return NewFitzOpener(), nil
	case "pdfium":
		return NewPDFiumOpener(poolSize)
	case "fake":
		return NewFakeOpener(FakeConfig{PageCount: max(fakePages, 1)}), nil
	default:
		return nil, fmt.Errorf("unknown render backend %q (supported: fitz, pdfium, fake)", backend)
	}
}

// CloseOpener closes the opener if the backend holds resources of its own
func CloseOpener(opener Opener) error {
	if closer, ok := opener.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// readAll loads every byte behind an access path. Both native backends parse
// documents from memory, so each handle owns its own copy.
func readAll(access Access) ([]byte, error) {
	return io.ReadAll(io.NewSectionReader(access, 0, access.Size()))
}
