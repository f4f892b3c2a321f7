package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drummonds/pagerender/engine/pdfrenderer"
	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

func defaultLogger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

// LoadRecorder keeps a history of loaded documents. The database repository
// implements it; a nil recorder disables the history.
type LoadRecorder interface {
	RecordDocumentLoad(id ulid.ULID, name string, pageCount, poolSize int, backend string) error
	RecordDocumentUnload(id ulid.ULID) error
}

// Options tune the engine; zero values pick the defaults
type Options struct {
	PoolSize       int           // 0 sizes the pool from GOMAXPROCS
	AcquireTimeout time.Duration // 0 means DefaultAcquireTimeout
	LockMode       LockMode      // empty means LockGlobal
	Backend        string        // recorded with each load
	Logger         *slog.Logger
}

// DocumentInfo describes the currently loaded document
type DocumentInfo struct {
	ID        ulid.ULID `json:"id"`
	Name      string    `json:"name"`
	PageCount int       `json:"pageCount"`
	PoolSize  int       `json:"poolSize"`
	LoadedAt  time.Time `json:"loadedAt"`
}

// Engine holds at most one loaded document and its renderer pool
type Engine struct {
	opener   pdfrenderer.Opener
	opts     Options
	recorder LoadRecorder
	logger   *slog.Logger

	// lifecycle serializes LoadDocument, Cleanup and Close
	lifecycle sync.Mutex

	mu      sync.RWMutex
	primary pdfrenderer.Access
	pool    *RendererPool
	info    DocumentInfo
	closed  bool
}

// NewEngine creates an engine with nothing loaded
func NewEngine(opener pdfrenderer.Opener, opts Options, recorder LoadRecorder) *Engine {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.LockMode == "" {
		opts.LockMode = LockGlobal
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	return &Engine{
		opener:   opener,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
	}
}

// LoadDocument replaces the current document with src. Everything belonging
// to the previous document is released before anything new is opened. On
// failure no document is loaded.
func (e *Engine) LoadDocument(ctx context.Context, src pdfrenderer.Source) (DocumentInfo, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return DocumentInfo{}, errors.New("engine is closed")
	}

	e.cleanupLocked()

	if src == nil {
		return DocumentInfo{}, fmt.Errorf("%w: no source given", ErrSourceOpen)
	}
	name := src.Name()
	e.logger.Info("Loading document", "name", name)

	primary, err := src.Open()
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("%w: %s: %w", ErrSourceOpen, name, err)
	}

	pageCount, err := e.readPageCount(primary)
	if err != nil {
		primary.Close()
		return DocumentInfo{}, fmt.Errorf("%w: %s: %w", ErrSourceOpen, name, err)
	}

	size := ResolvePoolSize(e.opts.PoolSize)
	pool, err := NewRendererPool(ctx, primary, e.opener, size, e.opts.LockMode, e.logger)
	if err != nil {
		primary.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return DocumentInfo{}, ctxErr
		}
		return DocumentInfo{}, fmt.Errorf("%w: %s: creating renderer pool: %w", ErrSourceOpen, name, err)
	}

	info := DocumentInfo{
		ID:        ulid.Make(),
		Name:      name,
		PageCount: pageCount,
		PoolSize:  size,
		LoadedAt:  time.Now(),
	}

	e.mu.Lock()
	e.primary = primary
	e.pool = pool
	e.info = info
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.RecordDocumentLoad(info.ID, name, pageCount, size, e.opts.Backend); err != nil {
			e.logger.Warn("Unable to record document load", "id", info.ID, "error", err)
		}
	}
	e.logger.Info("Document loaded", "id", info.ID, "name", name, "pages", pageCount, "poolSize", size)
	return info, nil
}

// readPageCount opens a short-lived handle on a duplicate of primary
func (e *Engine) readPageCount(primary pdfrenderer.Access) (int, error) {
	dup, err := primary.Dup()
	if err != nil {
		return 0, fmt.Errorf("duplicating access: %w", err)
	}
	doc, err := e.opener.Open(dup)
	if err != nil {
		dup.Close()
		return 0, err
	}
	pageCount := doc.PageCount()
	if err := doc.Close(); err != nil {
		e.logger.Warn("Error closing page count renderer", "error", err)
	}
	return pageCount, nil
}

// Cleanup releases the loaded document, if any. It never fails; problems are
// logged and the engine is left with nothing loaded.
func (e *Engine) Cleanup() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.cleanupLocked()
}

func (e *Engine) cleanupLocked() {
	e.mu.Lock()
	pool, primary, info := e.pool, e.primary, e.info
	e.pool, e.primary, e.info = nil, nil, DocumentInfo{}
	e.mu.Unlock()

	if pool == nil && primary == nil {
		return
	}
	if pool != nil {
		stats := pool.Stats()
		if err := pool.Drain(); err != nil {
			e.logger.Error("Error closing renderers", "id", info.ID, "error", err)
		}
		if stats.CheckedOut > 0 {
			e.logger.Warn("Renderers still in use during cleanup", "id", info.ID, "checkedOut", stats.CheckedOut)
		}
	}
	if primary != nil {
		if err := primary.Close(); err != nil {
			e.logger.Error("Error closing document source", "id", info.ID, "error", err)
		}
	}
	if e.recorder != nil && info.ID != (ulid.ULID{}) {
		if err := e.recorder.RecordDocumentUnload(info.ID); err != nil {
			e.logger.Warn("Unable to record document unload", "id", info.ID, "error", err)
		}
	}
	e.logger.Info("Document unloaded", "id", info.ID, "name", info.Name)
}

// Close releases the document and the backend. The engine cannot load again.
func (e *Engine) Close() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cleanupLocked()
	return pdfrenderer.CloseOpener(e.opener)
}

// Document returns the loaded document, if any
func (e *Engine) Document() (DocumentInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info, e.pool != nil
}

// PoolStats returns the renderer pool accounting for the loaded document
func (e *Engine) PoolStats() (PoolStats, bool) {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()
	if pool == nil {
		return PoolStats{}, false
	}
	return pool.Stats(), true
}

func (e *Engine) currentPool() (*RendererPool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return nil, ErrNoDocument
	}
	return e.pool, nil
}
