// Package fwimg classifies firmware partition images and converts them
// between their sparse and raw representations.
package fwimg

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Format describes the on-disk envelope of a partition image.
type Format int

const (
	FormatUnknown Format = iota
	FormatSparse
	FormatExt4
	FormatF2FS
	FormatEROFS
)

func (f Format) String() string {
	switch f {
	case FormatSparse:
		return "sparse"
	case FormatExt4:
		return "ext4"
	case FormatF2FS:
		return "f2fs"
	case FormatEROFS:
		return "erofs"
	}
	return "raw"
}

// KnownFilesystem reports whether f is a raw image of a recognized
// filesystem type (as opposed to a sparse container or opaque data).
func (f Format) KnownFilesystem() bool {
	return f == FormatExt4 || f == FormatF2FS || f == FormatEROFS
}

const (
	// Android sparse image magic, little-endian at offset 0.
	sparseMagic = 0xed26ff3a

	// All three filesystem superblocks live in the block starting at 1024.
	superblockOffset = 1024

	ext4Magic       = 0xef53
	ext4MagicOffset = superblockOffset + 0x38
	f2fsMagic       = 0xf2f52010
	erofsMagic      = 0xe0f5e1e2

	// headerLen covers the sparse header and the superblock signatures.
	headerLen = superblockOffset + 0x40
)

// Detect classifies blob by magic-header check, then by filesystem
// superblock signature. It never modifies blob.
func Detect(blob []byte) Format {
	if len(blob) >= 4 && binary.LittleEndian.Uint32(blob) == sparseMagic {
		return FormatSparse
	}
	if len(blob) < headerLen {
		return FormatUnknown
	}
	if binary.LittleEndian.Uint16(blob[ext4MagicOffset:]) == ext4Magic {
		return FormatExt4
	}
	if binary.LittleEndian.Uint32(blob[superblockOffset:]) == f2fsMagic {
		return FormatF2FS
	}
	if binary.LittleEndian.Uint32(blob[superblockOffset:]) == erofsMagic {
		return FormatEROFS
	}
	return FormatUnknown
}

// DetectFile classifies the image at path without reading more than its
// header block.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()
	header := make([]byte, headerLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("reading header of %s: %v", path, err)
	}
	return Detect(header[:n]), nil
}
