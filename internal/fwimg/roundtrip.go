package fwimg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
)

// Converter turns sparse images into raw images and back. The production
// implementation shells out to simg2img/img2simg (see internal/tools).
type Converter interface {
	SparseDecode(src, dst string) error
	SparseEncode(src, dst string) error
}

// ConvertIn makes the image at path available as raw bytes for in-place
// mutation. For sparse inputs the decoded copy is placed in scratch; raw
// inputs are returned as-is. The returned Format must be passed back to
// ConvertOut so that the original envelope is restored.
//
// A converter failure on a (possibly malformed) sparse input is not fatal:
// the original bytes are used unchanged and a warning is logged.
func ConvertIn(conv Converter, path, scratch string) (rawPath string, orig Format, err error) {
	orig, err = DetectFile(path)
	if err != nil {
		return "", FormatUnknown, err
	}
	if orig != FormatSparse {
		return path, orig, nil
	}
	rawPath = filepath.Join(scratch, filepath.Base(path)+".raw")
	if err := conv.SparseDecode(path, rawPath); err != nil {
		log.Warnf("sparse decode of %s failed (%v), continuing with original bytes", filepath.Base(path), err)
		return path, orig, nil
	}
	return rawPath, orig, nil
}

// ConvertOut writes the (possibly mutated) raw image at rawPath to dest,
// re-encoding it as a sparse image if the input originally was one. A
// failing encoder degrades to a raw copy with a warning rather than
// aborting the run.
func ConvertOut(conv Converter, rawPath string, orig Format, dest string) error {
	if orig == FormatSparse {
		err := conv.SparseEncode(rawPath, dest)
		if err == nil {
			return nil
		}
		log.Warnf("sparse encode of %s failed (%v), writing raw bytes instead", filepath.Base(dest), err)
	}
	return CopyFile(rawPath, dest)
}

// CopyFile copies src to dst verbatim, creating or truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %v", src, dst, err)
	}
	return out.Close()
}
