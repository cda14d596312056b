package buffer

import "github.com/tuannm99/novabuf/internal/file"

// PageFormatter initializes the contents of a freshly appended block.
type PageFormatter interface {
	Format(p *file.Page)
}

// PageFormatterFunc adapts a function to PageFormatter.
type PageFormatterFunc func(p *file.Page)

func (f PageFormatterFunc) Format(p *file.Page) { f(p) }

// ZeroFormatter leaves the new block all zero.
var ZeroFormatter PageFormatter = PageFormatterFunc(func(p *file.Page) { p.Zero() })
