package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/novabuf/internal/alias/util"
	"github.com/tuannm99/novabuf/internal/logging"
)

const (
	DefaultBlockSize = 1 << 12 // 4 KiB

	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

var (
	ErrClosed         = errors.New("file: manager is closed")
	ErrInvalidBlock   = errors.New("file: invalid block")
	ErrBadBlockSize   = errors.New("file: block size must be positive")
	ErrEmptyFileName  = errors.New("file: empty file name")
	ErrPageSizeDiffer = errors.New("file: page size differs from block size")
)

// Manager reads and writes whole blocks of files that live in one directory.
// Block n of a file is stored at offset n*blockSize.
type Manager struct {
	dir       string
	blockSize int
	logger    *slog.Logger

	mu     sync.Mutex
	files  map[string]*os.File
	closed bool
}

func NewManager(dir string, blockSize int, logger *slog.Logger) (*Manager, error) {
	if blockSize <= 0 {
		return nil, ErrBadBlockSize
	}
	if err := os.MkdirAll(dir, FileMode0755); err != nil {
		return nil, fmt.Errorf("file: create dir: %w", err)
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Manager{
		dir:       dir,
		blockSize: blockSize,
		logger:    logger,
		files:     make(map[string]*os.File),
	}, nil
}

func (m *Manager) BlockSize() int { return m.blockSize }

// openLocked returns the cached handle for filename, opening it on first use.
// RDWR | CREATE (no truncate)
func (m *Manager) openLocked(filename string) (*os.File, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if filename == "" {
		return nil, ErrEmptyFileName
	}
	if f, ok := m.files[filename]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(m.dir, filename), os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, err
	}
	m.files[filename] = f
	return f, nil
}

func (m *Manager) open(filename string) (*os.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(filename)
}

func (m *Manager) offset(blk Block) (int64, error) {
	if blk.Number < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidBlock, blk)
	}
	return int64(blk.Number) * int64(m.blockSize), nil
}

// Read reads block blk into p.
// Bytes beyond the end of the file read as zero, so a block that was never
// written comes back as an all-zero page.
func (m *Manager) Read(blk Block, p *Page) error {
	if p.Size() != m.blockSize {
		return ErrPageSizeDiffer
	}
	off, err := m.offset(blk)
	if err != nil {
		return err
	}
	f, err := m.open(blk.File)
	if err != nil {
		return err
	}

	n, err := f.ReadAt(p.Buf, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("file: read %s: %w", blk, err)
	}
	clear(p.Buf[n:])
	return nil
}

// Write writes p to block blk.
func (m *Manager) Write(blk Block, p *Page) error {
	if p.Size() != m.blockSize {
		return ErrPageSizeDiffer
	}
	off, err := m.offset(blk)
	if err != nil {
		return err
	}
	f, err := m.open(blk.File)
	if err != nil {
		return err
	}

	n, err := f.WriteAt(p.Buf, off)
	if err != nil {
		return fmt.Errorf("file: write %s: %w", blk, err)
	}
	if n != m.blockSize {
		return io.ErrShortWrite
	}
	return nil
}

// Append extends filename by one zeroed block and returns its identity.
func (m *Manager) Append(filename string) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.openLocked(filename)
	if err != nil {
		return Block{}, err
	}
	n, err := m.lengthOf(f)
	if err != nil {
		return Block{}, err
	}

	blk := NewBlock(filename, n)
	zero := make([]byte, m.blockSize)
	if _, err := f.WriteAt(zero, int64(n)*int64(m.blockSize)); err != nil {
		return Block{}, fmt.Errorf("file: append %s: %w", filename, err)
	}
	return blk, nil
}

// Length returns the number of blocks in filename.
func (m *Manager) Length(filename string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.openLocked(filename)
	if err != nil {
		return 0, err
	}
	return m.lengthOf(f)
}

func (m *Manager) lengthOf(f *os.File) (int32, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int32(info.Size() / int64(m.blockSize)), nil
}

// Close closes every open file. Further calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, f := range m.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("file: sync %s: %w", name, err))
		}
		util.CloseQuietly(f, m.logger)
	}
	m.files = nil
	return errors.Join(errs...)
}
