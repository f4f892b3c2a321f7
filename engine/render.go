package engine

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/drummonds/pagerender/engine/pdfrenderer"
	"golang.org/x/sync/errgroup"
)

// PageResult is one event of a streamed render
type PageResult struct {
	Index  int
	Raster *image.RGBA
	Err    error
}

// chunk is a contiguous [start, end) range of request positions
type chunk struct {
	start, end int
}

// partition splits m requests into contiguous chunks of ceil(m/n); the last
// chunk may be shorter
func partition(m, n int) []chunk {
	if m <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	batchSize := (m + n - 1) / n
	chunks := make([]chunk, 0, n)
	for start := 0; start < m; start += batchSize {
		chunks = append(chunks, chunk{start: start, end: min(start+batchSize, m)})
	}
	return chunks
}

func validateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return nil
}

// RenderPage renders one page into a fresh width x height raster. The page is
// stretched independently on each axis so the raster always matches the
// requested box. The handle goes back to the pool on every path.
func (e *Engine) RenderPage(ctx context.Context, index, width, height int) (*image.RGBA, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	pool, err := e.currentPool()
	if err != nil {
		return nil, err
	}

	var raster *image.RGBA
	err = pool.WithRenderer(ctx, e.opts.AcquireTimeout, func(doc pdfrenderer.Document) error {
		var rerr error
		raster, rerr = e.renderWith(ctx, pool, doc, index, width, height)
		return rerr
	})
	if err != nil {
		return nil, wrapPageError("render", index, err)
	}
	return raster, nil
}

// RenderPages renders every requested page across the pool and returns the
// rasters in request order. One goroutine per chunk reuses a single handle
// for its pages. The first failure cancels the remaining work.
func (e *Engine) RenderPages(ctx context.Context, indices []int, width, height int) ([]*image.RGBA, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	pool, err := e.currentPool()
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return []*image.RGBA{}, nil
	}

	chunks := partition(len(indices), pool.Size())
	results := make([]*image.RGBA, len(indices))
	startTime := time.Now()
	e.logger.Debug("Started rendering pages", "pages", len(indices), "chunks", len(chunks), "batchSize", chunks[0].end)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		g.Go(func() error {
			return pool.WithRenderer(gctx, e.opts.AcquireTimeout, func(doc pdfrenderer.Document) error {
				for i := c.start; i < c.end; i++ {
					raster, err := e.renderWith(gctx, pool, doc, indices[i], width, height)
					if err != nil {
						return wrapPageError("render batch", indices[i], err)
					}
					results[i] = raster
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Debug("Rendering pages failed", "pages", len(indices), "error", err)
		return nil, err
	}

	e.logger.Debug("Finished rendering pages", "pages", len(indices), "chunks", len(chunks), "elapsed", time.Since(startTime))
	return results, nil
}

// RenderPagesStream renders like RenderPages but emits each page as soon as it
// is done. Events are ordered within a chunk only. The channel is closed once
// every chunk finishes or ctx is cancelled; the consumer must drain it or
// cancel ctx. Failures are reported per page and never stop other pages.
func (e *Engine) RenderPagesStream(ctx context.Context, indices []int, width, height int) <-chan PageResult {
	err := validateDimensions(width, height)
	var pool *RendererPool
	if err == nil {
		pool, err = e.currentPool()
	}
	if err != nil {
		out := make(chan PageResult, len(indices))
		for _, index := range indices {
			out <- PageResult{Index: index, Err: err}
		}
		close(out)
		return out
	}

	chunks := partition(len(indices), pool.Size())
	out := make(chan PageResult, pool.Size())
	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.streamChunk(ctx, pool, indices[c.start:c.end], width, height, out)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (e *Engine) streamChunk(ctx context.Context, pool *RendererPool, pages []int, width, height int, out chan<- PageResult) {
	err := pool.WithRenderer(ctx, e.opts.AcquireTimeout, func(doc pdfrenderer.Document) error {
		for _, index := range pages {
			if err := ctx.Err(); err != nil {
				return err
			}
			raster, err := e.renderWith(ctx, pool, doc, index, width, height)
			result := PageResult{Index: index, Raster: raster, Err: wrapPageError("render stream", index, err)}
			if !send(ctx, out, result) {
				return ctx.Err()
			}
		}
		return nil
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	// the chunk never got a renderer: every page in it fails the same way
	for _, index := range pages {
		if !send(ctx, out, PageResult{Index: index, Err: wrapPageError("render stream", index, err)}) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- PageResult, result PageResult) bool {
	select {
	case out <- result:
		return true
	case <-ctx.Done():
		return false
	}
}

// renderWith renders one page with a handle the caller already holds
func (e *Engine) renderWith(ctx context.Context, pool *RendererPool, doc pdfrenderer.Document, index, width, height int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle := pool.HandleID(doc)
	e.logger.Debug("Opening page", "handle", handle, "page", index)
	page, err := doc.OpenPage(index)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Warn("Error closing page", "handle", handle, "page", index, "error", cerr)
		}
	}()

	if page.Width() <= 0 || page.Height() <= 0 {
		return nil, fmt.Errorf("%w: page has no area (%gx%g)", ErrNativeRender, page.Width(), page.Height())
	}
	raster := pdfrenderer.NewRaster(width, height)
	m := pdfrenderer.Scale(float64(width)/page.Width(), float64(height)/page.Height())

	lock := pool.renderLock(doc)
	lock.Lock()
	e.logger.Debug("Started rendering page", "handle", handle, "page", index)
	err = page.Render(raster, nil, m, pdfrenderer.ModeDisplay)
	lock.Unlock()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Finished rendering page", "handle", handle, "page", index)
	return raster, nil
}
