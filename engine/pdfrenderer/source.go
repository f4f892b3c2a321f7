package pdfrenderer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Source is an openable reference to document bytes supplied by the caller
type Source interface {
	// Open opens the primary access path to the document
	Open() (Access, error)

	// Name identifies the source in logs
	Name() string
}

// Access is an open path to document bytes that can be duplicated into
// independent paths over the same bytes
type Access interface {
	io.ReaderAt
	Size() int64
	Dup() (Access, error)
	Close() error
}

// FileSource is a document on the local filesystem
type FileSource struct {
	Path string
}

// Name returns the file path
func (s FileSource) Name() string {
	return s.Path
}

// Open opens the file read-only
func (s FileSource) Open() (Access, error) {
	return openFileAccess(s.Path)
}

// MemorySource is a document already held in memory (for example an upload)
type MemorySource struct {
	Label string
	Data  []byte
}

// Name returns the label of the in-memory document
func (s MemorySource) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

// Open returns an access path over the in-memory bytes
func (s MemorySource) Open() (Access, error) {
	if len(s.Data) == 0 {
		return nil, fmt.Errorf("empty document %q", s.Name())
	}
	return &memoryAccess{data: s.Data, reader: bytes.NewReader(s.Data)}, nil
}

type fileAccess struct {
	mu   sync.Mutex
	file *os.File
	path string
	size int64
}

func openFileAccess(path string) (*fileAccess, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &fileAccess{file: file, path: path, size: info.Size()}, nil
}

func (a *fileAccess) ReadAt(p []byte, off int64) (int, error) {
	a.mu.Lock()
	file := a.file
	a.mu.Unlock()
	if file == nil {
		return 0, os.ErrClosed
	}
	return file.ReadAt(p, off)
}

func (a *fileAccess) Size() int64 {
	return a.size
}

// Dup reopens the file so the duplicate has its own descriptor
func (a *fileAccess) Dup() (Access, error) {
	a.mu.Lock()
	closed := a.file == nil
	a.mu.Unlock()
	if closed {
		return nil, os.ErrClosed
	}
	return openFileAccess(a.path)
}

func (a *fileAccess) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

type memoryAccess struct {
	mu     sync.Mutex
	data   []byte
	reader *bytes.Reader
}

func (a *memoryAccess) ReadAt(p []byte, off int64) (int, error) {
	a.mu.Lock()
	reader := a.reader
	a.mu.Unlock()
	if reader == nil {
		return 0, os.ErrClosed
	}
	return reader.ReadAt(p, off)
}

func (a *memoryAccess) Size() int64 {
	return int64(len(a.data))
}

func (a *memoryAccess) Dup() (Access, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return nil, os.ErrClosed
	}
	return &memoryAccess{data: a.data, reader: bytes.NewReader(a.data)}, nil
}

func (a *memoryAccess) Close() error {
	a.mu.Lock()
	a.reader = nil
	a.mu.Unlock()
	return nil
}
