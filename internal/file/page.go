package file

import (
	"errors"

	"github.com/tuannm99/novabuf/internal/alias/bx"
)

var (
	ErrOutOfBounds = errors.New("page: offset out of bounds")
	ErrWrongSize   = errors.New("page: buffer size != block size")
)

const lenPrefix = 4

// Page is the in-memory image of one block.
// Byte slices and strings are stored with a 4-byte length prefix.
type Page struct {
	Buf []byte
}

func NewPage(blockSize int) *Page {
	return &Page{Buf: make([]byte, blockSize)}
}

func (p *Page) Size() int { return len(p.Buf) }

func (p *Page) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(p.Buf) {
		return ErrOutOfBounds
	}
	return nil
}

func (p *Page) GetInt(off int) (int32, error) {
	if err := p.check(off, 4); err != nil {
		return 0, err
	}
	return bx.I32At(p.Buf, off), nil
}

func (p *Page) SetInt(off int, v int32) error {
	if err := p.check(off, 4); err != nil {
		return err
	}
	bx.PutI32At(p.Buf, off, v)
	return nil
}

func (p *Page) GetInt64(off int) (int64, error) {
	if err := p.check(off, 8); err != nil {
		return 0, err
	}
	return bx.I64At(p.Buf, off), nil
}

func (p *Page) SetInt64(off int, v int64) error {
	if err := p.check(off, 8); err != nil {
		return err
	}
	bx.PutI64At(p.Buf, off, v)
	return nil
}

func (p *Page) GetBytes(off int) ([]byte, error) {
	if err := p.check(off, lenPrefix); err != nil {
		return nil, err
	}
	n := int(bx.U32At(p.Buf, off))
	if err := p.check(off+lenPrefix, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.Buf[off+lenPrefix:off+lenPrefix+n])
	return out, nil
}

func (p *Page) SetBytes(off int, b []byte) error {
	if err := p.check(off, lenPrefix+len(b)); err != nil {
		return err
	}
	bx.PutU32At(p.Buf, off, uint32(len(b)))
	copy(p.Buf[off+lenPrefix:], b)
	return nil
}

func (p *Page) GetString(off int) (string, error) {
	b, err := p.GetBytes(off)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Page) SetString(off int, s string) error {
	return p.SetBytes(off, []byte(s))
}

// MaxLength is the number of bytes needed to store a string of strlen bytes.
func MaxLength(strlen int) int {
	return lenPrefix + strlen
}

// Zero clears the whole page.
func (p *Page) Zero() {
	clear(p.Buf)
}
