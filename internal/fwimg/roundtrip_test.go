package fwimg

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeConverter simulates simg2img/img2simg: decode strips the magic,
// encode puts it back.
type fakeConverter struct {
	decodeErr error
	encodeErr error
}

func (c *fakeConverter) SparseDecode(src, dst string) error {
	if c.decodeErr != nil {
		return c.decodeErr
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b[4:], 0644)
}

func (c *fakeConverter) SparseEncode(src, dst string) error {
	if c.encodeErr != nil {
		return c.encodeErr
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, 0xed26ff3a)
	return os.WriteFile(dst, append(hdr, b...), 0644)
}

func writeSparse(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "boot.img")
	if err := os.WriteFile(path, sparseBlob(t), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRoundTripSparse(t *testing.T) {
	dir := t.TempDir()
	conv := &fakeConverter{}
	path := writeSparse(t, dir)

	rawPath, orig, err := ConvertIn(conv, path, dir)
	if err != nil {
		t.Fatal(err)
	}
	if orig != FormatSparse {
		t.Fatalf("origin format = %v, want %v", orig, FormatSparse)
	}
	if rawPath == path {
		t.Fatal("sparse input was not decoded to a scratch copy")
	}

	// Mutate the raw bytes, as the transplant steps would.
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatal(err)
	}
	raw[10] ^= 0xff
	if err := os.WriteFile(rawPath, raw, 0644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "boot.out.img")
	if err := ConvertOut(conv, rawPath, orig, dest); err != nil {
		t.Fatal(err)
	}
	// The envelope must survive the round trip even though the raw bytes
	// changed in between.
	got, err := DetectFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if got != FormatSparse {
		t.Errorf("output format = %v, want %v", got, FormatSparse)
	}
}

func TestConvertInRawPassthrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "misc.bin")
	if err := os.WriteFile(path, []byte("opaque firmware data"), 0644); err != nil {
		t.Fatal(err)
	}
	rawPath, orig, err := ConvertIn(&fakeConverter{}, path, dir)
	if err != nil {
		t.Fatal(err)
	}
	if rawPath != path {
		t.Errorf("raw input was copied (%s), want passthrough", rawPath)
	}
	if orig != FormatUnknown {
		t.Errorf("origin format = %v, want %v", orig, FormatUnknown)
	}
}

func TestConvertInDecodeFailureFallsBack(t *testing.T) {
	dir := t.TempDir()
	conv := &fakeConverter{decodeErr: errors.New("malformed sparse header")}
	path := writeSparse(t, dir)

	rawPath, orig, err := ConvertIn(conv, path, dir)
	if err != nil {
		t.Fatal(err)
	}
	// Best-available bytes: the original file, still marked sparse.
	if rawPath != path {
		t.Errorf("rawPath = %s, want original %s", rawPath, path)
	}
	if orig != FormatSparse {
		t.Errorf("origin format = %v, want %v", orig, FormatSparse)
	}
}

func TestConvertOutEncodeFailureWritesRaw(t *testing.T) {
	dir := t.TempDir()
	conv := &fakeConverter{encodeErr: errors.New("img2simg exploded")}
	raw := filepath.Join(dir, "raw.img")
	content := []byte("raw partition bytes")
	if err := os.WriteFile(raw, content, 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.img")
	if err := ConvertOut(conv, raw, FormatSparse, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("fallback output = %q, want raw bytes %q", got, content)
	}
}

func TestConvertOutRawVerbatim(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.img")
	content := []byte("unchanged")
	if err := os.WriteFile(raw, content, 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.img")
	if err := ConvertOut(&fakeConverter{}, raw, FormatUnknown, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("output = %q, want %q", got, content)
	}
}
