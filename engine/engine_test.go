package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drummonds/pagerender/engine/pdfrenderer"
	"github.com/oklog/ulid/v2"
)

type loadEvent struct {
	id     ulid.ULID
	loaded bool
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []loadEvent
}

func (r *fakeRecorder) RecordDocumentLoad(id ulid.ULID, name string, pageCount, poolSize int, backend string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, loadEvent{id: id, loaded: true})
	return nil
}

func (r *fakeRecorder) RecordDocumentUnload(id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, loadEvent{id: id})
	return nil
}

var testPDF = pdfrenderer.MemorySource{Label: "test.pdf", Data: []byte("%PDF-1.7")}

func TestLoadDocument(t *testing.T) {
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 7})
	e := NewEngine(opener, Options{PoolSize: 3, Logger: testLogger()}, nil)
	defer e.Close()

	info, err := e.LoadDocument(context.Background(), testPDF)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if info.PageCount != 7 || info.PoolSize != 3 || info.Name != "test.pdf" {
		t.Errorf("Unexpected document info: %+v", info)
	}
	// the page count handle is closed again, only the pool stays open
	if opener.Opens() != 4 || opener.LiveDocuments() != 3 {
		t.Errorf("opens=%d live=%d, want 4 and 3", opener.Opens(), opener.LiveDocuments())
	}

	current, ok := e.Document()
	if !ok || current.ID != info.ID {
		t.Errorf("Document() = %+v, %v", current, ok)
	}
}

func TestLoadDocument_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 2})
	e := NewEngine(opener, Options{PoolSize: 2, Logger: testLogger()}, nil)
	defer e.Close()

	if _, err := e.LoadDocument(context.Background(), pdfrenderer.FileSource{Path: path}); err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if _, err := e.RenderPage(context.Background(), 1, 20, 20); err != nil {
		t.Errorf("RenderPage failed: %v", err)
	}
}

func TestLoadDocument_Failures(t *testing.T) {
	tests := []struct {
		name   string
		cfg    pdfrenderer.FakeConfig
		source pdfrenderer.Source
	}{
		{"missing file", pdfrenderer.FakeConfig{PageCount: 1}, pdfrenderer.FileSource{Path: filepath.Join(t.TempDir(), "missing.pdf")}},
		{"empty upload", pdfrenderer.FakeConfig{PageCount: 1}, pdfrenderer.MemorySource{Label: "empty.pdf"}},
		{"unreadable document", pdfrenderer.FakeConfig{PageCount: 1, FailOpenAt: 1}, testPDF},
		{"pool handle fails", pdfrenderer.FakeConfig{PageCount: 1, FailOpenAt: 3}, testPDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := pdfrenderer.NewFakeOpener(tt.cfg)
			e := NewEngine(opener, Options{PoolSize: 2, Logger: testLogger()}, nil)
			defer e.Close()

			_, err := e.LoadDocument(context.Background(), tt.source)
			if !errors.Is(err, ErrSourceOpen) {
				t.Fatalf("Expected ErrSourceOpen, got %v", err)
			}
			if _, ok := e.Document(); ok {
				t.Error("No document should be loaded after a failed load")
			}
			if opener.LiveDocuments() != 0 {
				t.Errorf("Failed load leaked %d handles", opener.LiveDocuments())
			}
			if _, err := e.RenderPage(context.Background(), 0, 10, 10); !errors.Is(err, ErrNoDocument) {
				t.Errorf("Expected ErrNoDocument, got %v", err)
			}
		})
	}
}

func TestLoadDocument_ReloadReleasesFirst(t *testing.T) {
	fake := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 3})
	var (
		reloading  atomic.Bool
		violations atomic.Int32
	)
	// the first load closes its page count handle; the reload must close the
	// two pool handles before opening anything, so 3 closes are expected
	opener := pdfrenderer.OpenerFunc(func(access pdfrenderer.Access) (pdfrenderer.Document, error) {
		if reloading.Load() && fake.ClosedDocuments() < 3 {
			violations.Add(1)
		}
		return fake.Open(access)
	})
	e := NewEngine(opener, Options{PoolSize: 2, Logger: testLogger()}, nil)
	defer e.Close()

	first, err := e.LoadDocument(context.Background(), testPDF)
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	reloading.Store(true)
	second, err := e.LoadDocument(context.Background(), pdfrenderer.MemorySource{Label: "other.pdf", Data: []byte("%PDF-1.7 other")})
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}

	if n := violations.Load(); n != 0 {
		t.Errorf("%d handles were opened while the previous document was still open", n)
	}
	if first.ID == second.ID {
		t.Error("Each load should get a new id")
	}
	if fake.LiveDocuments() != 2 {
		t.Errorf("Expected only the new pool alive, got %d handles", fake.LiveDocuments())
	}
}

func TestLoadDocument_FailedReloadLeavesNothing(t *testing.T) {
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 2})
	e := NewEngine(opener, Options{PoolSize: 1, Logger: testLogger()}, nil)
	defer e.Close()

	if _, err := e.LoadDocument(context.Background(), testPDF); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := e.LoadDocument(context.Background(), pdfrenderer.MemorySource{}); !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("Expected ErrSourceOpen, got %v", err)
	}
	if _, ok := e.Document(); ok {
		t.Error("Previous document must be released even when the reload fails")
	}
	if opener.LiveDocuments() != 0 {
		t.Errorf("Expected no live handles, got %d", opener.LiveDocuments())
	}
}

func TestCleanup(t *testing.T) {
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 2})
	recorder := &fakeRecorder{}
	e := NewEngine(opener, Options{PoolSize: 2, Logger: testLogger()}, recorder)
	defer e.Close()

	info, err := e.LoadDocument(context.Background(), testPDF)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	e.Cleanup()
	e.Cleanup()

	if opener.LiveDocuments() != 0 {
		t.Errorf("Cleanup left %d handles open", opener.LiveDocuments())
	}
	if _, ok := e.PoolStats(); ok {
		t.Error("PoolStats should report nothing loaded")
	}
	if _, err := e.RenderPage(context.Background(), 0, 10, 10); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Expected ErrNoDocument after cleanup, got %v", err)
	}

	want := []loadEvent{{id: info.ID, loaded: true}, {id: info.ID}}
	if len(recorder.events) != len(want) {
		t.Fatalf("Recorded events = %v, want %v", recorder.events, want)
	}
	for i := range want {
		if recorder.events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, recorder.events[i], want[i])
		}
	}
}

func TestCleanup_WhileRendering(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	delay := func(int) time.Duration {
		once.Do(func() { close(started) })
		return 100 * time.Millisecond
	}
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 1, RenderDelay: delay})
	e := NewEngine(opener, Options{PoolSize: 2, Logger: testLogger()}, nil)
	defer e.Close()

	if _, err := e.LoadDocument(context.Background(), testPDF); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	done := make(chan error)
	go func() {
		_, err := e.RenderPage(context.Background(), 0, 10, 10)
		done <- err
	}()
	<-started
	e.Cleanup()

	if err := <-done; err != nil {
		t.Errorf("In-flight render should finish, got %v", err)
	}
	// the checked out handle is closed when it comes back
	if opener.LiveDocuments() != 0 {
		t.Errorf("Expected every handle closed, got %d", opener.LiveDocuments())
	}
}

func TestClose(t *testing.T) {
	opener := pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 1})
	e := NewEngine(opener, Options{Logger: testLogger()}, nil)

	if _, err := e.LoadDocument(context.Background(), testPDF); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if opener.LiveDocuments() != 0 {
		t.Errorf("Close left %d handles open", opener.LiveDocuments())
	}
	if _, err := e.LoadDocument(context.Background(), testPDF); err == nil {
		t.Error("LoadDocument after Close should fail")
	}
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(pdfrenderer.NewFakeOpener(pdfrenderer.FakeConfig{PageCount: 1}), Options{}, nil)
	defer e.Close()

	if e.opts.AcquireTimeout != DefaultAcquireTimeout {
		t.Errorf("AcquireTimeout = %v, want %v", e.opts.AcquireTimeout, DefaultAcquireTimeout)
	}
	if e.opts.LockMode != LockGlobal {
		t.Errorf("LockMode = %q, want %q", e.opts.LockMode, LockGlobal)
	}
	if e.logger == nil {
		t.Error("Expected a logger")
	}
}
