package pipeline

import (
	"fmt"
	"os"

	"github.com/sgsi/aprepack/internal/bundle"
)

// Config is the complete, immutable configuration of one run. It is built
// once from the command line and threaded explicitly through every stage;
// no stage consults ambient state.
type Config struct {
	InputPath string // positional AP_*.tar.md5 argument
	OutputDir string

	GSIPath       string // replacement system image, plain or .xz
	ReferencePath string // reference image carrying the identity section, plain or .lz4

	OldModel string // overrides filename-derived detection
	NewModel string // only honored with ModelReplace
	Revision byte   // 0 means no revision patch

	Exclude []string

	ModelReplace bool // experimental full model substitution
	AltSuper     bool // experimental: emit super image sparse
	Repack       bool // rebuild a .tar.md5 instead of an image directory

	KeepTemp bool
	Verbose  bool
}

// Validate checks the invocation before any work happens.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return &ValidationError{Msg: "an input bundle is required"}
	}
	if err := bundle.ValidateName(c.InputPath); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	if _, err := os.Stat(c.InputPath); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	if c.OutputDir == "" {
		return &ValidationError{Msg: "--output is required"}
	}
	for _, p := range []string{c.GSIPath, c.ReferencePath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
	}
	if c.NewModel != "" && !c.ModelReplace {
		return &ValidationError{Msg: "--new-model requires --experimental-model-replace"}
	}
	if c.ModelReplace && c.NewModel == "" {
		return &ValidationError{Msg: "--experimental-model-replace requires --new-model"}
	}
	// Model substitution only runs after a successful section graft, so
	// without a reference it would silently do nothing.
	if c.ModelReplace && c.ReferencePath == "" {
		return &ValidationError{Msg: "--experimental-model-replace requires --reference"}
	}
	return nil
}

// excludeSet returns the exclusion names as a set, covering both the plain
// and the compressed member form.
func (c *Config) excludeSet() map[string]bool {
	set := make(map[string]bool, 2*len(c.Exclude))
	for _, name := range c.Exclude {
		set[name] = true
		set[name+".lz4"] = true
	}
	return set
}

// wantsModification reports whether any flat-image mutation was requested.
func (c *Config) wantsModification() bool {
	return c.ReferencePath != "" || c.Revision != 0
}

func (c *Config) String() string {
	return fmt.Sprintf("input=%s output=%s gsi=%q reference=%q revision=%q repack=%t",
		c.InputPath, c.OutputDir, c.GSIPath, c.ReferencePath, c.Revision, c.Repack)
}
