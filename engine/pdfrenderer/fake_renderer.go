package pdfrenderer

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"
)

// ErrFakeOpen is returned by FakeOpener when configured to fail opening
var ErrFakeOpen = errors.New("fake: open failed")

// FakeConfig configures the deterministic test backend
type FakeConfig struct {
	PageCount  int
	PageWidth  float64 // points, default 612 (US Letter)
	PageHeight float64 // points, default 792

	// RenderDelay returns how long rendering a page takes
	RenderDelay func(index int) time.Duration

	// RenderErrors maps page indexes to the error their Render call returns
	RenderErrors map[int]error

	// FailOpenAt makes the n-th call to Open (1-based) fail; 0 disables it
	FailOpenAt int
}

// FakeOpener is a fully deterministic backend that never touches real I/O.
// It records how many handles and pages are live so tests can detect leaks.
type FakeOpener struct {
	cfg FakeConfig

	mu          sync.Mutex
	opens       int
	liveDocs    int
	livePages   int
	closedDocs  int
	rendering   int
	peakRenders int
	rendered    []int
}

// NewFakeOpener creates a fake backend
func NewFakeOpener(cfg FakeConfig) *FakeOpener {
	if cfg.PageWidth <= 0 {
		cfg.PageWidth = 612
	}
	if cfg.PageHeight <= 0 {
		cfg.PageHeight = 792
	}
	return &FakeOpener{cfg: cfg}
}

// Open creates a fake document handle that owns access
func (o *FakeOpener) Open(access Access) (Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.cfg.FailOpenAt > 0 && o.opens == o.cfg.FailOpenAt {
		return nil, ErrFakeOpen
	}
	o.liveDocs++
	return &fakeDocument{opener: o, access: access}, nil
}

// Opens returns how many times Open was called
func (o *FakeOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// LiveDocuments returns how many documents are open and not yet closed
func (o *FakeOpener) LiveDocuments() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.liveDocs
}

// ClosedDocuments returns how many documents have been closed
func (o *FakeOpener) ClosedDocuments() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closedDocs
}

// LivePages returns how many pages are open across every document
func (o *FakeOpener) LivePages() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.livePages
}

// PeakRenders returns the highest number of Render calls seen running at once
func (o *FakeOpener) PeakRenders() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peakRenders
}

// Rendered returns the page indexes rendered so far, in completion order
func (o *FakeOpener) Rendered() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.rendered...)
}

// PageColor is the colour the fake backend paints page index with
func PageColor(index int) color.RGBA {
	return color.RGBA{R: uint8(index * 37), G: uint8(index * 91), B: 200, A: 255}
}

type fakeDocument struct {
	opener *FakeOpener
	access Access

	mu     sync.Mutex
	closed bool
	open   *fakePage
}

func (d *fakeDocument) PageCount() int {
	return d.opener.cfg.PageCount
}

func (d *fakeDocument) OpenPage(index int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if err := checkIndex(index, d.opener.cfg.PageCount); err != nil {
		return nil, err
	}
	if d.open != nil {
		return nil, ErrPageAlreadyOpen
	}
	page := &fakePage{parent: d, index: index}
	d.open = page

	d.opener.mu.Lock()
	d.opener.livePages++
	d.opener.mu.Unlock()
	return page, nil
}

func (d *fakeDocument) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pageOpen := d.open != nil
	d.open = nil
	d.mu.Unlock()

	d.opener.mu.Lock()
	d.opener.liveDocs--
	d.opener.closedDocs++
	if pageOpen {
		d.opener.livePages--
	}
	d.opener.mu.Unlock()

	if d.access != nil {
		return d.access.Close()
	}
	return nil
}

type fakePage struct {
	parent *fakeDocument
	index  int
	closed bool
}

func (p *fakePage) Width() float64 {
	return p.parent.opener.cfg.PageWidth
}

func (p *fakePage) Height() float64 {
	return p.parent.opener.cfg.PageHeight
}

func (p *fakePage) Render(dst *image.RGBA, clip *image.Rectangle, m Matrix, _ RenderMode) error {
	p.parent.mu.Lock()
	closed := p.closed || p.parent.closed
	p.parent.mu.Unlock()
	if closed {
		return ErrPageClosed
	}

	o := p.parent.opener
	o.mu.Lock()
	o.rendering++
	if o.rendering > o.peakRenders {
		o.peakRenders = o.rendering
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.rendering--
		o.mu.Unlock()
	}()

	if o.cfg.RenderDelay != nil {
		time.Sleep(o.cfg.RenderDelay(p.index))
	}
	if err, ok := o.cfg.RenderErrors[p.index]; ok {
		return nativeError("fake", p.index, err)
	}

	r := drawRect(dst, clip, targetRect(p.Width(), p.Height(), m))
	draw.Draw(dst, r, image.NewUniform(PageColor(p.index)), image.Point{}, draw.Src)

	o.mu.Lock()
	o.rendered = append(o.rendered, p.index)
	o.mu.Unlock()
	return nil
}

func (p *fakePage) Close() error {
	p.parent.mu.Lock()
	if p.closed {
		p.parent.mu.Unlock()
		return nil
	}
	p.closed = true
	wasOpen := p.parent.open == p
	if wasOpen {
		p.parent.open = nil
	}
	p.parent.mu.Unlock()

	if wasOpen {
		p.parent.opener.mu.Lock()
		p.parent.opener.livePages--
		p.parent.opener.mu.Unlock()
	}
	return nil
}
