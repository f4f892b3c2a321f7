package pdfrenderer

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func openFake(t *testing.T, cfg FakeConfig) (*FakeOpener, Document) {
	t.Helper()
	opener := NewFakeOpener(cfg)
	access, err := MemorySource{Label: "fake.pdf", Data: []byte("%PDF-1.7")}.Open()
	if err != nil {
		t.Fatalf("Failed to open memory source: %v", err)
	}
	doc, err := opener.Open(access)
	if err != nil {
		t.Fatalf("Failed to open fake document: %v", err)
	}
	return opener, doc
}

func TestFakeDocument_OpenPage(t *testing.T) {
	opener, doc := openFake(t, FakeConfig{PageCount: 3})
	defer doc.Close()

	if doc.PageCount() != 3 {
		t.Fatalf("Expected 3 pages, got %d", doc.PageCount())
	}

	for _, index := range []int{-1, 3, 100} {
		_, err := doc.OpenPage(index)
		if !errors.Is(err, ErrPageIndexOutOfRange) {
			t.Errorf("OpenPage(%d) error = %v, want ErrPageIndexOutOfRange", index, err)
		}
	}

	page, err := doc.OpenPage(1)
	if err != nil {
		t.Fatalf("OpenPage(1) failed: %v", err)
	}
	if _, err := doc.OpenPage(2); !errors.Is(err, ErrPageAlreadyOpen) {
		t.Errorf("Second OpenPage error = %v, want ErrPageAlreadyOpen", err)
	}
	if opener.LivePages() != 1 {
		t.Errorf("Expected 1 live page, got %d", opener.LivePages())
	}

	if err := page.Close(); err != nil {
		t.Fatalf("Page close failed: %v", err)
	}
	if err := page.Close(); err != nil {
		t.Errorf("Second page close should be a no-op, got %v", err)
	}
	if opener.LivePages() != 0 {
		t.Errorf("Expected 0 live pages after close, got %d", opener.LivePages())
	}

	page, err = doc.OpenPage(2)
	if err != nil {
		t.Fatalf("OpenPage after close failed: %v", err)
	}
	page.Close()
}

func TestFakeDocument_CloseIdempotent(t *testing.T) {
	opener, doc := openFake(t, FakeConfig{PageCount: 1})

	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if opener.LiveDocuments() != 0 || opener.ClosedDocuments() != 1 {
		t.Errorf("live=%d closed=%d, want 0 and 1", opener.LiveDocuments(), opener.ClosedDocuments())
	}
	if _, err := doc.OpenPage(0); !errors.Is(err, ErrDocumentClosed) {
		t.Errorf("OpenPage on closed document error = %v, want ErrDocumentClosed", err)
	}
}

func TestFakePage_RenderFillsExactBox(t *testing.T) {
	_, doc := openFake(t, FakeConfig{PageCount: 2, PageWidth: 200, PageHeight: 100})
	defer doc.Close()

	page, err := doc.OpenPage(1)
	if err != nil {
		t.Fatalf("OpenPage failed: %v", err)
	}
	defer page.Close()

	// 200x100 points into a 50x80 raster: independent scale factors
	raster := NewRaster(50, 80)
	m := Scale(50/page.Width(), 80/page.Height())
	if err := page.Render(raster, nil, m, ModeDisplay); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	want := PageColor(1)
	for _, pt := range []image.Point{{0, 0}, {49, 0}, {0, 79}, {49, 79}, {25, 40}} {
		if got := raster.RGBAAt(pt.X, pt.Y); got != want {
			t.Errorf("pixel %v = %v, want %v", pt, got, want)
		}
	}
}

func TestFakePage_RenderClip(t *testing.T) {
	_, doc := openFake(t, FakeConfig{PageCount: 1, PageWidth: 10, PageHeight: 10})
	defer doc.Close()

	page, _ := doc.OpenPage(0)
	defer page.Close()

	raster := NewRaster(10, 10)
	clip := image.Rect(0, 0, 5, 5)
	if err := page.Render(raster, &clip, Scale(1, 1), ModeDisplay); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := raster.RGBAAt(2, 2); got != PageColor(0) {
		t.Errorf("inside clip = %v, want page colour", got)
	}
	if got := raster.RGBAAt(7, 7); got != (color.RGBA{}) {
		t.Errorf("outside clip = %v, want untouched", got)
	}
}

func TestFakePage_RenderError(t *testing.T) {
	boom := errors.New("boom")
	_, doc := openFake(t, FakeConfig{PageCount: 2, RenderErrors: map[int]error{1: boom}})
	defer doc.Close()

	page, _ := doc.OpenPage(1)
	defer page.Close()

	err := page.Render(NewRaster(10, 10), nil, Scale(1, 1), ModeDisplay)
	if !errors.Is(err, ErrNativeRender) {
		t.Errorf("Render error = %v, want ErrNativeRender", err)
	}
}

func TestFakeOpener_FailOpenAt(t *testing.T) {
	opener := NewFakeOpener(FakeConfig{PageCount: 1, FailOpenAt: 2})
	source := MemorySource{Data: []byte("x")}

	for i := 1; i <= 3; i++ {
		access, _ := source.Open()
		doc, err := opener.Open(access)
		if i == 2 {
			if !errors.Is(err, ErrFakeOpen) {
				t.Errorf("open %d error = %v, want ErrFakeOpen", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		doc.Close()
	}
}

func TestFileSource_Dup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	content := []byte("%PDF-1.4 test document bytes")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	primary, err := FileSource{Path: path}.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dup, err := primary.Dup()
	if err != nil {
		t.Fatalf("Dup failed: %v", err)
	}

	if dup.Size() != int64(len(content)) {
		t.Errorf("dup size = %d, want %d", dup.Size(), len(content))
	}

	// The duplicate survives the primary being closed
	primary.Close()
	data, err := readAll(dup)
	if err != nil {
		t.Fatalf("reading dup failed: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("dup content = %q, want %q", data, content)
	}

	if err := dup.Close(); err != nil {
		t.Errorf("dup close failed: %v", err)
	}
	if err := dup.Close(); err != nil {
		t.Errorf("second dup close should be a no-op, got %v", err)
	}
	if _, err := primary.Dup(); err == nil {
		t.Error("Dup of a closed access should fail")
	}
}

func TestSource_OpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		source Source
	}{
		{"missing file", FileSource{Path: filepath.Join(t.TempDir(), "missing.pdf")}},
		{"directory", FileSource{Path: t.TempDir()}},
		{"empty memory", MemorySource{Label: "empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.source.Open(); err == nil {
				t.Errorf("Open(%s) should fail", tt.source.Name())
			}
		})
	}
}

func TestNewOpener(t *testing.T) {
	opener, err := NewOpener("fake", 2, 7)
	if err != nil {
		t.Fatalf("NewOpener(fake) failed: %v", err)
	}
	if _, ok := opener.(*FakeOpener); !ok {
		t.Errorf("NewOpener(fake) = %T, want *FakeOpener", opener)
	}
	access, err := MemorySource{Label: "any.pdf", Data: []byte("%PDF")}.Open()
	if err != nil {
		t.Fatalf("Failed to open memory source: %v", err)
	}
	doc, err := opener.Open(access)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if doc.PageCount() != 7 {
		t.Errorf("Expected the configured 7 pages, got %d", doc.PageCount())
	}
	doc.Close()

	single, _ := NewOpener("fake", 2, 0)
	singleAccess, _ := MemorySource{Label: "any.pdf", Data: []byte("%PDF")}.Open()
	singleDoc, err := single.Open(singleAccess)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if singleDoc.PageCount() != 1 {
		t.Errorf("Expected at least one page, got %d", singleDoc.PageCount())
	}
	singleDoc.Close()
	if err := CloseOpener(opener); err != nil {
		t.Errorf("CloseOpener(fake) = %v", err)
	}

	if _, err := NewOpener("ghostscript", 2, 1); err == nil {
		t.Error("NewOpener should reject unknown backends")
	}
}

func TestCompose_NonUniformScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	dst := NewRaster(30, 10)
	compose(dst, nil, targetRect(4, 4, Scale(7.5, 2.5)), src)

	if got := dst.RGBAAt(29, 9); got.R == 0 {
		t.Errorf("bottom-right pixel not painted: %v", got)
	}
}
