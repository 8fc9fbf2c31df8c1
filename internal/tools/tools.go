// Package tools locates the external collaborators and wraps their
// invocation. All converters, packers and filesystem tools are treated as
// black boxes; calls block until the child process exits.
package tools

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/apex/log"

	"github.com/sgsi/aprepack/internal/fwimg"
)

// Set holds the resolved paths of the external tools. Required tools are
// probed once before the pipeline starts; optional tools may be empty and
// the steps using them degrade to warnings.
type Set struct {
	Simg2img string
	Img2simg string
	Lpmake   string
	Lpunpack string

	// Avbtool generates the verification-disabled signing image. Optional.
	Avbtool string
}

// Probe resolves all collaborator paths. The names of missing required
// tools are returned for the caller to turn into a fatal pre-pipeline
// error.
func Probe() (*Set, []string) {
	var missing []string
	lookup := func(name string, required bool) string {
		path, err := exec.LookPath(name)
		if err != nil {
			if required {
				missing = append(missing, name)
			} else {
				log.Debugf("optional tool %s not found", name)
			}
			return ""
		}
		return path
	}
	s := &Set{
		Simg2img: lookup("simg2img", true),
		Img2simg: lookup("img2simg", true),
		Lpmake:   lookup("lpmake", true),
		Lpunpack: lookup("lpunpack", true),
		Avbtool:  lookup("avbtool", false),
	}
	return s, missing
}

// Run executes one collaborator invocation, surfacing its stderr.
func Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	log.Debugf("running %v", cmd.Args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v: %v", cmd.Args, err)
	}
	return nil
}

// SparseDecode converts a sparse image to its raw representation.
func (s *Set) SparseDecode(src, dst string) error {
	return Run(s.Simg2img, src, dst)
}

// SparseEncode converts a raw image into a sparse image.
func (s *Set) SparseEncode(src, dst string) error {
	return Run(s.Img2simg, src, dst)
}

var _ fwimg.Converter = (*Set)(nil)

// Unpack extracts the logical partitions of the raw super image at src
// into dir.
func (s *Set) Unpack(src, dir string) error {
	return Run(s.Lpunpack, src, dir)
}

// fsTools maps a detected filesystem type to its check/resize tool pair.
var fsTools = map[fwimg.Format][2]string{
	fwimg.FormatExt4: {"e2fsck", "resize2fs"},
	fwimg.FormatF2FS: {"fsck.f2fs", "resize.f2fs"},
}

// CheckAndShrink fscks the raw filesystem image at path and shrinks it to
// its minimal size, so the synthesized partition table reflects the true
// space requirement. Unknown filesystem types and missing tools are
// non-fatal: the image is used as-is.
func CheckAndShrink(path string, format fwimg.Format) error {
	pair, ok := fsTools[format]
	if !ok {
		log.Debugf("no filesystem tools for %s images, using %s as-is", format, path)
		return nil
	}
	fsck, err := exec.LookPath(pair[0])
	if err != nil {
		log.Warnf("%s not found, skipping filesystem check of %s", pair[0], path)
		return nil
	}
	// e2fsck exits 1 after fixing correctable problems; only treat that as
	// informational.
	if err := Run(fsck, "-f", "-y", path); err != nil {
		log.Warnf("%s reported problems on %s: %v", pair[0], path, err)
	}
	if format != fwimg.FormatExt4 {
		// Only resize2fs supports shrink-to-minimum.
		return nil
	}
	resize, err := exec.LookPath(pair[1])
	if err != nil {
		log.Warnf("%s not found, skipping shrink of %s", pair[1], path)
		return nil
	}
	return Run(resize, "-M", path)
}

// MakeVbmeta writes a verification-disabled vbmeta image to dst.
func (s *Set) MakeVbmeta(dst string) error {
	if s.Avbtool == "" {
		return fmt.Errorf("avbtool not available")
	}
	return Run(s.Avbtool, "make_vbmeta_image", "--flags", "2", "--padding_size", "4096", "--output", dst)
}
