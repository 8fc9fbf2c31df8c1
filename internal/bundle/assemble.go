package bundle

import (
	"archive/tar"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// WriteArchive concatenates the finalized artifacts into a tar at dest
// (which must end in .tar.md5) and appends the md5 hex digest of the tar
// bytes directly after the end-of-archive marker. The digest is raw hex
// text, not a tar member; the .md5 suffix signals this layout to
// downstream consumers. The write is atomic: the file only appears under
// its final name once digest and rename are complete.
func WriteArchive(paths []string, dest string) error {
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0644))
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	digest := md5.New()
	tw := tar.NewWriter(io.MultiWriter(pending, digest))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(st, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.Base(p)
		hdr.Format = tar.FormatGNU
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return fmt.Errorf("archiving %s: %v", p, err)
		}
		f.Close()
	}
	if err := tw.Close(); err != nil {
		return err
	}
	// The digest line names the .tar, matching the vendor's
	// append-then-rename convention.
	tarName := strings.TrimSuffix(filepath.Base(dest), ".md5")
	if _, err := fmt.Fprintf(pending, "%x  %s\n", digest.Sum(nil), tarName); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// CompressMember lz4-compresses src to dst, restoring the member shape the
// vendor bundle uses.
func CompressMember(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return fmt.Errorf("compressing %s: %v", src, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DecompressAuto copies the file at src to dst, transparently decoding the
// .lz4 and .xz envelopes used for reference and replacement images.
func DecompressAuto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	var r io.Reader = in
	switch filepath.Ext(src) {
	case ".lz4":
		r = lz4.NewReader(in)
	case ".xz":
		xr, err := xz.NewReader(in)
		if err != nil {
			return fmt.Errorf("opening %s: %v", src, err)
		}
		r = xr
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("decompressing %s: %v", src, err)
	}
	return out.Close()
}
