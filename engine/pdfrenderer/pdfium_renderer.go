package pdfrenderer

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// instanceTimeout bounds how long opening a document waits for a PDFium worker
const instanceTimeout = 30 * time.Second

// PDFiumOpener opens documents with go-pdfium using WebAssembly (pure Go, no CGo).
// Every document gets its own PDFium instance so handles never share a worker.
type PDFiumOpener struct {
	mu   sync.Mutex
	pool pdfium.Pool
}

// NewPDFiumOpener starts a WebAssembly worker pool large enough for poolSize
// handles plus the temporary handle used to read the page count
func NewPDFiumOpener(poolSize int) (*PDFiumOpener, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  poolSize + 1,
		MaxTotal: poolSize + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}
	return &PDFiumOpener{pool: pool}, nil
}

// Open loads the bytes behind access into a dedicated PDFium instance
func (o *PDFiumOpener) Open(access Access) (Document, error) {
	o.mu.Lock()
	pool := o.pool
	o.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("PDFium opener is closed")
	}

	data, err := readAll(access)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	instance, err := pool.GetInstance(instanceTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	doc, err := instance.OpenDocument(&requests.OpenDocument{
		File: &data,
	})
	if err != nil {
		instance.Close()
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCountResp, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		instance.Close()
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	return &pdfiumDocument{
		instance:  instance,
		doc:       doc.Document,
		access:    access,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// Close shuts down the WebAssembly worker pool
func (o *PDFiumOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pool == nil {
		return nil
	}
	err := o.pool.Close()
	o.pool = nil
	return err
}

type pdfiumDocument struct {
	mu        sync.Mutex
	instance  pdfium.Pdfium
	doc       references.FPDF_DOCUMENT
	access    Access
	pageCount int
	open      *pdfiumPage
}

func (d *pdfiumDocument) PageCount() int {
	return d.pageCount
}

func (d *pdfiumDocument) OpenPage(index int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instance == nil {
		return nil, ErrDocumentClosed
	}
	if err := checkIndex(index, d.pageCount); err != nil {
		return nil, err
	}
	if d.open != nil {
		return nil, ErrPageAlreadyOpen
	}

	loaded, err := d.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{
		Document: d.doc,
		Index:    index,
	})
	if err != nil {
		return nil, nativeError("pdfium", index, err)
	}
	ref := loaded.Page
	size, err := d.instance.GetPageSize(&requests.GetPageSize{
		Page: requests.Page{ByReference: &ref},
	})
	if err != nil {
		d.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: ref})
		return nil, nativeError("pdfium", index, err)
	}

	page := &pdfiumPage{parent: d, index: index, ref: ref, width: size.Width, height: size.Height}
	d.open = page
	return page, nil
}

// Close closes the document, hands the instance back to the worker pool and
// closes the access path
func (d *pdfiumDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instance == nil {
		return nil
	}
	if d.open != nil {
		d.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: d.open.ref})
		d.open.closed = true
		d.open = nil
	}
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.doc,
	})
	if cerr := d.instance.Close(); err == nil {
		err = cerr
	}
	d.instance = nil
	if d.access != nil {
		if cerr := d.access.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type pdfiumPage struct {
	parent *pdfiumDocument
	index  int
	ref    references.FPDF_PAGE
	width  float64
	height float64
	closed bool
}

func (p *pdfiumPage) Width() float64 {
	return p.width
}

func (p *pdfiumPage) Height() float64 {
	return p.height
}

// Render asks PDFium for the exact target size; mode is ignored because the
// WebAssembly build exposes a single render profile
func (p *pdfiumPage) Render(dst *image.RGBA, clip *image.Rectangle, m Matrix, _ RenderMode) error {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	if p.parent.instance == nil {
		return ErrDocumentClosed
	}
	target := targetRect(p.width, p.height, m)
	if drawRect(dst, clip, target).Empty() {
		return nil
	}

	ref := p.ref
	pageRender, err := p.parent.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:   requests.Page{ByReference: &ref},
		Width:  target.Dx(),
		Height: target.Dy(),
	})
	if err != nil {
		return nativeError("pdfium", p.index, err)
	}
	// Clean up WebAssembly resources for this page render
	defer pageRender.Cleanup()

	compose(dst, clip, target, pageRender.Result.Image)
	return nil
}

func (p *pdfiumPage) Close() error {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.parent.open == p {
		p.parent.open = nil
	}
	if p.parent.instance == nil {
		return nil
	}
	_, err := p.parent.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: p.ref})
	return err
}
