package file

import "fmt"

// Block identifies a disk block by file name and block number.
// It is a comparable value and is used directly as a map key.
type Block struct {
	File   string
	Number int32
}

func NewBlock(filename string, number int32) Block {
	return Block{File: filename, Number: number}
}

func (b Block) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.File, b.Number)
}
