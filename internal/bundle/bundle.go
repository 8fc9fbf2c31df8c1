// Package bundle reads and writes vendor AP firmware bundles: a tar of
// per-partition lz4-compressed images with an md5 hex digest appended
// after the final tar byte.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apex/log"
	"github.com/pierrec/lz4/v4"
)

// nameRe is the fixed naming convention for input bundles.
var nameRe = regexp.MustCompile(`^AP_.+\.tar\.md5$`)

// ValidateName checks the input archive against the vendor naming
// convention.
func ValidateName(path string) error {
	base := filepath.Base(path)
	if !nameRe.MatchString(base) {
		return fmt.Errorf("input %s does not match AP_*.tar.md5", base)
	}
	return nil
}

// buildRe matches the build string embedded in bundle filenames, e.g.
// AP_F711BXXS8HXF2_....tar.md5.
var buildRe = regexp.MustCompile(`^AP_([A-Z][0-9]{3}[A-Z]{2}[A-Z0-9]{6,12})_`)

// ModelFromFilename derives the device model from the bundle filename, or
// returns "" if the filename carries none.
func ModelFromFilename(path string) string {
	m := buildRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return ""
	}
	return m[1]
}

// Member is one partition image extracted from the bundle.
type Member struct {
	// Name is the decompressed image name, e.g. "boot.img".
	Name string
	// Path is where the decompressed image lives in the scratch dir.
	Path string
	// WasLZ4 records whether the member arrived lz4-compressed, so the
	// assembler can restore the same shape on repack.
	WasLZ4 bool
}

// Extract unpacks every member of the bundle at archive into dir,
// transparently decoding .lz4 members. The trailing digest after the tar
// end-of-archive marker is ignored on read; it only matters on write.
func Extract(archive, dir string) ([]Member, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var members []Member
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %v", archive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		wasLZ4 := strings.HasSuffix(name, ".lz4")
		var src io.Reader = tr
		if wasLZ4 {
			name = strings.TrimSuffix(name, ".lz4")
			src = lz4.NewReader(tr)
		}
		dest := filepath.Join(dir, name)
		out, err := os.Create(dest)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			return nil, fmt.Errorf("extracting %s: %v", hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		log.Debugf("extracted %s -> %s", hdr.Name, name)
		members = append(members, Member{Name: name, Path: dest, WasLZ4: wasLZ4})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("bundle %s contains no partition images", archive)
	}
	return members, nil
}
