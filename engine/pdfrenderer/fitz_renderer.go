package pdfrenderer

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// FitzOpener opens documents with go-fitz (requires CGo and MuPDF)
type FitzOpener struct{}

// NewFitzOpener creates a new Fitz-based opener
func NewFitzOpener() *FitzOpener {
	return &FitzOpener{}
}

// Open parses the bytes behind access into an independent MuPDF document
func (o *FitzOpener) Open(access Access) (Document, error) {
	data, err := readAll(access)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF document: %w", err)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &fitzDocument{doc: doc, access: access, pageCount: doc.NumPage()}, nil
}

type fitzDocument struct {
	mu        sync.Mutex
	doc       *fitz.Document
	access    Access
	pageCount int
	open      *fitzPage
}

func (d *fitzDocument) PageCount() int {
	return d.pageCount
}

func (d *fitzDocument) OpenPage(index int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, ErrDocumentClosed
	}
	if err := checkIndex(index, d.pageCount); err != nil {
		return nil, err
	}
	if d.open != nil {
		return nil, ErrPageAlreadyOpen
	}
	bound, err := d.doc.Bound(index)
	if err != nil {
		return nil, nativeError("fitz", index, err)
	}
	page := &fitzPage{parent: d, index: index, bound: bound}
	d.open = page
	return page, nil
}

// Close closes the MuPDF document and the access path it was opened from
func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	d.open = nil
	if d.access != nil {
		if cerr := d.access.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type fitzPage struct {
	parent *fitzDocument
	index  int
	bound  image.Rectangle
	closed bool
}

func (p *fitzPage) Width() float64 {
	return float64(p.bound.Dx())
}

func (p *fitzPage) Height() float64 {
	return float64(p.bound.Dy())
}

// Render rasterizes at a DPI high enough for the larger scale factor, then
// resamples onto the exact target box
func (p *fitzPage) Render(dst *image.RGBA, clip *image.Rectangle, m Matrix, mode RenderMode) error {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	if p.parent.doc == nil {
		return ErrDocumentClosed
	}
	target := targetRect(p.Width(), p.Height(), m)
	if drawRect(dst, clip, target).Empty() {
		return nil
	}
	dpi := nativeDPI(m)
	if mode == ModePrint && dpi < 300 {
		dpi = 300
	}
	img, err := p.parent.doc.ImageDPI(p.index, dpi)
	if err != nil {
		return nativeError("fitz", p.index, err)
	}
	compose(dst, clip, target, img)
	return nil
}

func (p *fitzPage) Close() error {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.parent.open == p {
		p.parent.open = nil
	}
	return nil
}
