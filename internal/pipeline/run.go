// Package pipeline ties the repackaging stages together: one strictly
// sequential pass over the bundle members, followed by container
// synthesis and final assembly.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/sgsi/aprepack/internal/bundle"
	"github.com/sgsi/aprepack/internal/fwimg"
	"github.com/sgsi/aprepack/internal/measure"
	"github.com/sgsi/aprepack/internal/signer"
	"github.com/sgsi/aprepack/internal/superimg"
	"github.com/sgsi/aprepack/internal/tools"
)

// containerImage is the member name routed to the super-image pipeline
// instead of the flat transplant path.
const containerImage = "super.img"

// Run executes one complete repackaging run. It owns a private scratch
// directory for its lifetime; cleanup fires on every exit path.
func Run(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ts, missing := tools.Probe()
	if len(missing) > 0 {
		return &ToolUnavailableError{Tools: missing}
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	log.Debugf("starting run: %s", cfg.String())
	return withScratchDir(cfg.KeepTemp, func(scratch string) error {
		st := &state{cfg: cfg, ts: ts, scratch: scratch}
		return st.run()
	})
}

// state carries the values threaded through one run: the immutable
// configuration plus the parameters extracted from the reference image.
type state struct {
	cfg     Config
	ts      *tools.Set
	scratch string

	params   *signer.Params
	oldModel string

	stage        string
	staged       []stagedFile
	gsiInstalled bool
}

// stagedFile is one finalized artifact awaiting assembly.
type stagedFile struct {
	path   string
	wasLZ4 bool // restore the lz4 member shape on repack
}

func (st *state) run() error {
	st.stage = filepath.Join(st.scratch, "stage")
	extractDir := filepath.Join(st.scratch, "extracted")
	for _, dir := range []string{st.stage, extractDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	done := measure.Interactively("reading bundle")
	members, err := bundle.Extract(st.cfg.InputPath, extractDir)
	if err != nil {
		done("")
		return &ValidationError{Msg: err.Error()}
	}
	done(fmt.Sprintf(", %d members", len(members)))

	if st.cfg.ReferencePath != "" {
		if err := st.extractParams(); err != nil {
			return err
		}
	}
	st.resolveOldModel(members)

	filter := &bundle.Filter{
		Exclude:       st.cfg.excludeSet(),
		ContainerName: containerImage,
		Modify:        st.cfg.wantsModification(),
	}

	// Strictly sequential: the table synthesizer needs the fully
	// processed member set before it can sum sizes.
	var super *bundle.Member
	for i := range members {
		m := members[i]
		decision := filter.Classify(m.Name)
		log.Debugf("%s: %s", m.Name, decision)
		switch decision {
		case bundle.StateExcluded:
			continue
		case bundle.StateContainerMember:
			super = &m
		case bundle.StateModified:
			if err := st.processImage(m); err != nil {
				log.Warnf("leaving %s unmodified: %v", m.Name, err)
				if err := st.stageCopy(m); err != nil {
					return err
				}
			}
		case bundle.StatePassThrough:
			if err := st.stageCopy(m); err != nil {
				return err
			}
		}
	}

	if super != nil {
		if err := st.rebuildSuper(*super); err != nil {
			return err
		}
	} else if st.cfg.GSIPath != "" {
		log.Warnf("bundle carries no %s, replacement image ignored", containerImage)
	}

	if st.gsiInstalled {
		st.writeVbmeta()
	}

	if st.cfg.Repack {
		return st.assembleBundle()
	}
	return st.emitImageDir()
}

// extractParams reads the reference image and extracts the
// device-identity section, writing the side-channel files next to the
// output images. A reference without a usable section is fatal.
func (st *state) extractParams() error {
	plain := filepath.Join(st.scratch, "reference.img")
	if err := bundle.DecompressAuto(st.cfg.ReferencePath, plain); err != nil {
		return &ExtractionError{Path: st.cfg.ReferencePath, Err: err}
	}
	blob, err := os.ReadFile(plain)
	if err != nil {
		return &ExtractionError{Path: st.cfg.ReferencePath, Err: err}
	}
	params, err := signer.Extract(blob)
	if err != nil {
		return &ExtractionError{Path: st.cfg.ReferencePath, Err: err}
	}
	st.params = params
	log.Infof("extracted %s section at offset %#x, device model %s",
		signer.SectionTag, params.Offset, params.DeviceModel)
	log.Debugf("signer version %q, number %q, date %q, software model %q, software version %q",
		params.SignerVersion, params.Number, params.Date, params.SoftwareModel, params.SoftwareVersion)
	if err := params.WriteMetadata(st.cfg.OutputDir); err != nil {
		return &ExtractionError{Path: st.cfg.ReferencePath, Err: err}
	}
	return nil
}

// resolveOldModel picks the old device model: explicit flag first, then
// the extracted section, then a scan of the extracted images, then the
// bundle filename.
func (st *state) resolveOldModel(members []bundle.Member) {
	switch {
	case st.cfg.OldModel != "":
		st.oldModel = st.cfg.OldModel
	case st.params != nil:
		st.oldModel = st.params.DeviceModel
	default:
		st.oldModel = detectOldModel(st.cfg.InputPath, members)
	}
	if st.oldModel != "" {
		log.Debugf("old device model: %s", st.oldModel)
	}
}

// detectOldModel scans the extracted images for device model strings,
// preferring the model named in the bundle filename. Images without any
// candidate fall back to the filename-derived model.
func detectOldModel(inputPath string, members []bundle.Member) string {
	preferred := bundle.ModelFromFilename(inputPath)
	for _, m := range members {
		blob, err := os.ReadFile(m.Path)
		if err != nil {
			log.Debugf("skipping %s during model detection: %v", m.Name, err)
			continue
		}
		models := signer.DetectModels(blob, preferred)
		if len(models) == 0 {
			continue
		}
		log.Debugf("model candidates in %s: %s", m.Name, strings.Join(models, ", "))
		return models[0]
	}
	return preferred
}

func revisionAnchor(model string) string {
	if len(model) < 5 {
		return ""
	}
	return model[:5]
}

// processImage runs one flat partition image through the modification
// path: sparse round-trip in, section graft, optional model substitution,
// optional revision patch, round-trip out. Any error here is recoverable;
// the caller stages the unmodified image instead.
func (st *state) processImage(m bundle.Member) error {
	rawPath, orig, err := fwimg.ConvertIn(st.ts, m.Path, st.scratch)
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(rawPath)
	if err != nil {
		return err
	}

	mutated := false
	if st.params != nil {
		winStart, ok, err := signer.Graft(blob, st.params.Section)
		if err != nil {
			return err
		}
		if !ok {
			log.Warnf("no %s tag in %s, section not grafted", signer.SectionTag, m.Name)
		} else {
			log.Debugf("grafted %s section into %s at offset %#x", signer.SectionTag, m.Name, winStart)
			mutated = true
			if st.cfg.ModelReplace {
				n := signer.ReplaceModel(blob, st.oldModel, st.cfg.NewModel,
					winStart, winStart+signer.SectionLen)
				if n > 0 {
					log.Infof("replaced %d model occurrences in %s", n, m.Name)
				}
			}
		}
	}

	if st.cfg.Revision != 0 {
		anchor := revisionAnchor(st.oldModel)
		switch patched, err := signer.PatchRevision(blob, anchor, st.cfg.Revision); {
		case err != nil:
			// Revision patching is an optional enhancement; skip this
			// image and keep going.
			log.Warnf("revision patch of %s skipped: %v", m.Name, err)
		case patched == signer.PatchAlreadySet:
			log.Infof("%s: revision already at %q", m.Name, st.cfg.Revision)
		default:
			log.Debugf("%s: revision set to %q", m.Name, st.cfg.Revision)
			mutated = true
		}
	}

	if mutated {
		if err := os.WriteFile(rawPath, blob, 0644); err != nil {
			return err
		}
	}
	dest := filepath.Join(st.stage, m.Name)
	if err := fwimg.ConvertOut(st.ts, rawPath, orig, dest); err != nil {
		return err
	}
	st.staged = append(st.staged, stagedFile{path: dest, wasLZ4: m.WasLZ4})
	return nil
}

func (st *state) stageCopy(m bundle.Member) error {
	dest := filepath.Join(st.stage, m.Name)
	if err := fwimg.CopyFile(m.Path, dest); err != nil {
		return err
	}
	st.staged = append(st.staged, stagedFile{path: dest, wasLZ4: m.WasLZ4})
	return nil
}

// rebuildSuper unpacks the container image, applies exclusions and the
// optional replacement image to its components, synthesizes a fresh
// partition table and drives lpmake. Packer failures are fatal: no
// partial container image is usable.
func (st *state) rebuildSuper(m bundle.Member) error {
	rawPath, _, err := fwimg.ConvertIn(st.ts, m.Path, st.scratch)
	if err != nil {
		return &AssemblyError{Step: "converting super image", Err: err}
	}
	componentDir := filepath.Join(st.scratch, "super")
	if err := os.MkdirAll(componentDir, 0755); err != nil {
		return err
	}
	done := measure.Interactively("unpacking super image")
	err = st.ts.Unpack(rawPath, componentDir)
	done("")
	if err != nil {
		return &AssemblyError{Step: "unpacking super image", Err: err}
	}

	for name := range st.cfg.excludeSet() {
		p := filepath.Join(componentDir, name)
		if _, err := os.Stat(p); err == nil {
			log.Debugf("excluding %s from super image", name)
			if err := os.Remove(p); err != nil {
				return err
			}
		}
	}

	if st.cfg.GSIPath != "" {
		if err := st.installGSI(componentDir); err != nil {
			return &AssemblyError{Step: "installing replacement image", Err: err}
		}
	}

	manifest, err := superimg.Synthesize(componentDir)
	if err != nil {
		return &AssemblyError{Step: "synthesizing partition table", Err: err}
	}
	if err := manifest.Check(); err != nil {
		return &AssemblyError{Step: "checking partition table", Err: err}
	}
	log.Infof("super: %d partitions, device size %d bytes (metadata %d)",
		len(manifest.Entries), manifest.DeviceSize, manifest.MetadataSize)
	for _, e := range manifest.Entries {
		log.Debugf("  %s: %d bytes", e.Name, e.Size)
	}

	rawOut := filepath.Join(st.scratch, "super.new.img")
	done = measure.Interactively("packing super image")
	err = tools.Run(st.ts.Lpmake, manifest.LpmakeArgs(rawOut)...)
	done("")
	if err != nil {
		return &AssemblyError{Step: "packing super image", Err: err}
	}

	dest := filepath.Join(st.stage, containerImage)
	if st.cfg.AltSuper {
		if err := st.ts.SparseEncode(rawOut, dest); err != nil {
			return &AssemblyError{Step: "sparse-encoding super image", Err: err}
		}
	} else {
		if err := os.Rename(rawOut, dest); err != nil {
			return err
		}
	}
	st.staged = append(st.staged, stagedFile{path: dest, wasLZ4: m.WasLZ4})
	return nil
}

// installGSI prepares the replacement system image (decompress, decode
// sparse, fsck, shrink to minimum) and swaps it into the component set.
func (st *state) installGSI(componentDir string) error {
	plain := filepath.Join(st.scratch, "gsi.img")
	if err := bundle.DecompressAuto(st.cfg.GSIPath, plain); err != nil {
		return err
	}
	rawPath, _, err := fwimg.ConvertIn(st.ts, plain, st.scratch)
	if err != nil {
		return err
	}
	format, err := fwimg.DetectFile(rawPath)
	if err != nil {
		return err
	}
	if err := tools.CheckAndShrink(rawPath, format); err != nil {
		log.Warnf("shrinking replacement image failed, using current size: %v", err)
	}
	dest := filepath.Join(componentDir, "system.img")
	if err := fwimg.CopyFile(rawPath, dest); err != nil {
		return err
	}
	st.gsiInstalled = true
	log.Infof("replaced system partition with %s", filepath.Base(st.cfg.GSIPath))
	return nil
}

// writeVbmeta emits a verification-disabled vbmeta image alongside the
// replaced system. Best effort: a missing avbtool downgrades to a
// warning.
func (st *state) writeVbmeta() {
	dest := filepath.Join(st.stage, "vbmeta.img")
	if err := st.ts.MakeVbmeta(dest); err != nil {
		log.Warnf("vbmeta generation skipped: %v", err)
		return
	}
	st.staged = append(st.staged, stagedFile{path: dest, wasLZ4: true})
}

// emitImageDir copies the finalized artifacts into the output directory.
func (st *state) emitImageDir() error {
	for _, s := range st.staged {
		dest := filepath.Join(st.cfg.OutputDir, filepath.Base(s.path))
		if err := fwimg.CopyFile(s.path, dest); err != nil {
			return &AssemblyError{Step: "writing output images", Err: err}
		}
	}
	log.Infof("wrote %d images to %s", len(st.staged), st.cfg.OutputDir)
	return nil
}

// assembleBundle rebuilds a .tar.md5: members that arrived lz4-compressed
// are recompressed, everything is concatenated into a tar and the trailing
// digest appended.
func (st *state) assembleBundle() error {
	repackDir := filepath.Join(st.scratch, "repack")
	if err := os.MkdirAll(repackDir, 0755); err != nil {
		return err
	}
	var paths []string
	for _, s := range st.staged {
		name := filepath.Base(s.path)
		if s.wasLZ4 {
			dest := filepath.Join(repackDir, name+".lz4")
			if err := bundle.CompressMember(s.path, dest); err != nil {
				return &AssemblyError{Step: "compressing " + name, Err: err}
			}
			paths = append(paths, dest)
			continue
		}
		paths = append(paths, s.path)
	}
	base := filepath.Base(st.cfg.InputPath)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".md5"), ".tar")
	dest := filepath.Join(st.cfg.OutputDir, base+"_repack.tar.md5")
	done := measure.Interactively("writing bundle")
	err := bundle.WriteArchive(paths, dest)
	done("")
	if err != nil {
		return &AssemblyError{Step: "writing bundle", Err: err}
	}
	log.Infof("wrote %s", dest)
	return nil
}
