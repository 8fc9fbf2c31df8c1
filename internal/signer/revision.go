package signer

import "fmt"

const (
	// The revision-bearing structure starts this many bytes before its
	// anchor string.
	revisionLead = 48

	// The revision byte sits this many bytes into the structure.
	revisionFieldOffset = 8
)

// PatchState reports what PatchRevision did to the target.
type PatchState int

const (
	PatchApplied PatchState = iota
	PatchAlreadySet
)

// PatchRevision rewrites the single firmware-revision byte in blob. The
// structure is located via the last occurrence of anchor (a manufacturer
// model prefix); the field offset arithmetic is entirely anchor-relative.
//
// Patching is idempotent: a field already at the target value is a
// successful no-op, reported as PatchAlreadySet. A missing anchor is an
// error; the caller skips that one image and keeps processing the rest.
func PatchRevision(blob []byte, anchor string, revision byte) (PatchState, error) {
	if anchor == "" {
		return 0, fmt.Errorf("empty revision anchor")
	}
	anchorOff, ok := Anchor(anchor).FindLast(blob)
	if !ok {
		return 0, fmt.Errorf("revision anchor %q not found", anchor)
	}
	structStart := anchorOff - revisionLead
	if structStart < 0 {
		return 0, fmt.Errorf("revision anchor %q at offset %#x leaves no room for the structure", anchor, anchorOff)
	}
	fieldOff := structStart + revisionFieldOffset
	if blob[fieldOff] == revision {
		return PatchAlreadySet, nil
	}
	blob[fieldOff] = revision
	return PatchApplied, nil
}
