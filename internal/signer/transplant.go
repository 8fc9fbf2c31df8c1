package signer

import (
	"bytes"
	"fmt"
	"unicode/utf16"

	"github.com/apex/log"
)

// Graft overwrites the device-identity window in target with section, in
// place at the target's own tag offset. The target length never changes.
//
// A missing tag is reported as ok=false without an error: per-partition
// grafting is best effort and the caller continues with the next image.
func Graft(target, section []byte) (windowStart int, ok bool, err error) {
	if len(section) != SectionLen {
		return 0, false, fmt.Errorf("section has %d bytes, want %d", len(section), SectionLen)
	}
	off, found := Anchor(SectionTag).FindLast(target)
	if !found {
		return 0, false, nil
	}
	if off+SectionLen > len(target) {
		return 0, false, fmt.Errorf("%s window at offset %#x exceeds target (%d bytes)", SectionTag, off, len(target))
	}
	copy(target[off:off+SectionLen], section)
	return off, true, nil
}

func utf16le(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = append(b, byte(u), byte(u>>8))
	}
	return b
}

// ReplaceModel substitutes every byte-exact occurrence of oldModel in
// target with newModel, in the ASCII and UTF-16LE byte shapes. Occurrences
// overlapping the half-open window [windowStart, windowEnd) are left alone
// so a freshly grafted section is never clobbered. Shapes whose old and new
// encodings differ in length are skipped with a warning instead of
// corrupting the surrounding bytes.
func ReplaceModel(target []byte, oldModel, newModel string, windowStart, windowEnd int) int {
	if oldModel == "" || newModel == "" || oldModel == newModel {
		return 0
	}
	shapes := []struct {
		name     string
		old, new []byte
	}{
		{"ASCII", []byte(oldModel), []byte(newModel)},
		{"UTF-16LE", utf16le(oldModel), utf16le(newModel)},
	}
	total := 0
	for _, shape := range shapes {
		if len(shape.old) != len(shape.new) {
			log.Warnf("model %q -> %q: %s byte lengths differ (%d vs %d), skipping",
				oldModel, newModel, shape.name, len(shape.old), len(shape.new))
			continue
		}
		for start := 0; ; {
			idx := bytes.Index(target[start:], shape.old)
			if idx < 0 {
				break
			}
			pos := start + idx
			start = pos + len(shape.old)
			if pos < windowEnd && pos+len(shape.old) > windowStart {
				continue
			}
			copy(target[pos:], shape.new)
			total++
		}
	}
	return total
}
