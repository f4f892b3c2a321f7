package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/drummonds/pagerender/engine/pdfrenderer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool sizing and waiting defaults.
const (
	// MinPoolSize ensures at least one renderer is available.
	MinPoolSize = 1

	// DefaultAcquireTimeout bounds how long a caller waits for a free renderer.
	DefaultAcquireTimeout = 10 * time.Second

	// cpuDivisor leaves headroom for page setup and the HTTP side.
	cpuDivisor = 2
)

// LockMode selects how render calls are serialized across pool handles
type LockMode string

const (
	// LockGlobal allows one render call at a time across every handle
	LockGlobal LockMode = "global"
	// LockHandle serializes render calls per handle only
	LockHandle LockMode = "handle"
	// LockNone leaves render calls unserialized
	LockNone LockMode = "none"
)

// ParseLockMode converts a config value into a LockMode; empty means global
func ParseLockMode(s string) (LockMode, error) {
	switch mode := LockMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return LockGlobal, nil
	case LockGlobal, LockHandle, LockNone:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid render lock %q (supported: global, handle, none)", s)
	}
}

// ResolvePoolSize determines the pool size.
// Priority: explicit size > GOMAXPROCS-based calculation.
func ResolvePoolSize(size int) int {
	if size > 0 {
		return size
	}
	// GOMAXPROCS is container aware when automaxprocs is linked into the binary
	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinPoolSize {
		return MinPoolSize
	}
	return n
}

// PoolStats is a consistent snapshot of pool accounting.
// Available + CheckedOut == Active holds for every snapshot.
type PoolStats struct {
	Size       int `json:"size"`
	Active     int `json:"active"`
	Available  int `json:"available"`
	CheckedOut int `json:"checkedOut"`
	Lost       int `json:"lost"`
}

// RendererPool owns a fixed set of Document handles opened against
// duplicated access to one document
type RendererPool struct {
	size     int
	sem      *semaphore.Weighted
	lockMode LockMode
	renderMu sync.Mutex
	logger   *slog.Logger

	// read-only after construction
	ids         map[pdfrenderer.Document]int
	handleLocks map[pdfrenderer.Document]*sync.Mutex

	mu         sync.Mutex
	available  []pdfrenderer.Document
	checkedOut map[pdfrenderer.Document]struct{}
	active     map[pdfrenderer.Document]struct{}
	lost       int
	closed     bool
}

// NewRendererPool duplicates access size times and opens one handle per
// duplicate concurrently. Creation is all-or-nothing: if any duplicate or
// open fails every handle already created is closed.
func NewRendererPool(ctx context.Context, access pdfrenderer.Access, opener pdfrenderer.Opener, size int, lockMode LockMode, logger *slog.Logger) (*RendererPool, error) {
	if size < MinPoolSize {
		size = MinPoolSize
	}
	if lockMode == "" {
		lockMode = LockGlobal
	}
	if logger == nil {
		logger = defaultLogger()
	}

	docs := make([]pdfrenderer.Document, size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dup, err := access.Dup()
			if err != nil {
				return fmt.Errorf("duplicating document access for renderer %d: %w", i, err)
			}
			doc, err := opener.Open(dup)
			if err != nil {
				dup.Close()
				return fmt.Errorf("opening renderer %d: %w", i, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, doc := range docs {
			if doc == nil {
				continue
			}
			if cerr := doc.Close(); cerr != nil {
				logger.Error("Error closing partially created renderer", "handle", i, "error", cerr)
			}
		}
		return nil, err
	}

	p := &RendererPool{
		size:        size,
		sem:         semaphore.NewWeighted(int64(size)),
		lockMode:    lockMode,
		logger:      logger,
		ids:         make(map[pdfrenderer.Document]int, size),
		handleLocks: make(map[pdfrenderer.Document]*sync.Mutex, size),
		available:   make([]pdfrenderer.Document, 0, size),
		checkedOut:  make(map[pdfrenderer.Document]struct{}, size),
		active:      make(map[pdfrenderer.Document]struct{}, size),
	}
	for i, doc := range docs {
		p.ids[doc] = i
		p.handleLocks[doc] = &sync.Mutex{}
		p.active[doc] = struct{}{}
		p.available = append(p.available, doc)
	}
	logger.Debug("Renderer pool created", "size", size, "renderLock", lockMode)
	return p, nil
}

// Acquire takes the longest-idle handle, waiting at most timeout for one to
// be released. On timeout it returns ErrPoolTimeout without consuming a handle.
func (p *RendererPool) Acquire(ctx context.Context, timeout time.Duration) (pdfrenderer.Document, error) {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w after %s", ErrPoolTimeout, timeout)
	}

	p.mu.Lock()
	if p.closed || len(p.available) == 0 {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	doc := p.available[0]
	p.available[0] = nil
	p.available = p.available[1:]
	p.checkedOut[doc] = struct{}{}
	p.mu.Unlock()
	return doc, nil
}

// Release returns a handle to the pool. A handle that cannot go back (the
// pool was drained while it was out) is closed and dropped instead; the
// failure is logged and never reported to the caller.
func (p *RendererPool) Release(doc pdfrenderer.Document) {
	if doc == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.checkedOut[doc]; !ok {
		_, known := p.active[doc]
		p.mu.Unlock()
		p.logger.Error("Failed to return renderer to pool",
			"handle", p.HandleID(doc), "known", known,
			"error", fmt.Errorf("%w: not checked out", ErrResourceRelease))
		return
	}
	delete(p.checkedOut, doc)

	if p.closed {
		delete(p.active, doc)
		p.lost++
		p.mu.Unlock()
		p.sem.Release(1)

		err := fmt.Errorf("%w: pool closed", ErrResourceRelease)
		if cerr := doc.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		p.logger.Warn("Renderer returned after drain, closed instead", "handle", p.HandleID(doc), "error", err)
		return
	}

	p.available = append(p.available, doc)
	p.mu.Unlock()
	p.sem.Release(1)
}

// WithRenderer runs fn with an acquired handle and releases it on every exit path
func (p *RendererPool) WithRenderer(ctx context.Context, timeout time.Duration, fn func(doc pdfrenderer.Document) error) error {
	doc, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer p.Release(doc)
	return fn(doc)
}

// Drain closes every idle handle and marks the pool closed. Handles still
// checked out are closed when they are released. Close failures are joined.
func (p *RendererPool) Drain() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.available
	p.available = nil
	for _, doc := range idle {
		delete(p.active, doc)
	}
	outstanding := len(p.checkedOut)
	p.mu.Unlock()

	var errs []error
	for _, doc := range idle {
		if err := doc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing renderer %d: %w", p.HandleID(doc), err))
		}
	}
	p.logger.Debug("Renderer pool drained", "closed", len(idle), "outstanding", outstanding)
	return errors.Join(errs...)
}

// Stats returns a consistent snapshot of the pool accounting
func (p *RendererPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:       p.size,
		Active:     len(p.active),
		Available:  len(p.available),
		CheckedOut: len(p.checkedOut),
		Lost:       p.lost,
	}
}

// Size returns the number of handles the pool was created with
func (p *RendererPool) Size() int {
	return p.size
}

// HandleID returns a stable small id for log lines; -1 for foreign handles
func (p *RendererPool) HandleID(doc pdfrenderer.Document) int {
	if id, ok := p.ids[doc]; ok {
		return id
	}
	return -1
}

// renderLock returns the lock a render call on doc must hold
func (p *RendererPool) renderLock(doc pdfrenderer.Document) sync.Locker {
	switch p.lockMode {
	case LockNone:
		return noopLocker{}
	case LockHandle:
		if mu, ok := p.handleLocks[doc]; ok {
			return mu
		}
		return &p.renderMu
	default:
		return &p.renderMu
	}
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}
