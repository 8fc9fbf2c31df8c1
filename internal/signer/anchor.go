// Package signer locates, extracts and transplants the SignerVer02
// device-identity section found in certain vendor firmware images, and
// patches the anchor-relative firmware revision byte.
package signer

import "bytes"

// An Anchor is an ASCII marker used to locate a structure inside a firmware
// blob. All downstream offsets are computed relative to the match position;
// nothing in this package uses absolute addresses.
type Anchor []byte

// Find returns the offset of the first occurrence of the anchor.
func (a Anchor) Find(blob []byte) (int, bool) {
	off := bytes.Index(blob, a)
	return off, off >= 0
}

// FindLast returns the offset of the last occurrence of the anchor.
// Earlier matches are frequently false positives in padding or leftover
// flash content, so the callers in this package all use FindLast.
func (a Anchor) FindLast(blob []byte) (int, bool) {
	off := bytes.LastIndex(blob, a)
	return off, off >= 0
}
