// Package cli constructs the aprepack command line. The tool is
// flag-driven with a single positional bundle argument; there are no
// subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/sgsi/aprepack/internal/pipeline"
)

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aprepack [flags] AP_xxx.tar.md5",
		Short: "repackage a vendor AP firmware bundle",
		Long: `aprepack transforms a vendor AP firmware bundle (AP_*.tar.md5) into a
directory of flashable images or a rebuilt bundle. It can substitute the
system partition with a generic system image, transplant the device-identity
section from a reference image into the other partitions, patch the firmware
revision byte, and drop partitions from the output.

Examples:
  # Unpack a bundle into flashable images, replacing system with a GSI:
  % aprepack --output out/ --gsi gsi.img.xz AP_F711BXXS8HXF2_....tar.md5

  # Transplant identity from misc.bin and rebuild the bundle:
  % aprepack --output out/ --reference misc.bin.lz4 --repack AP_....tar.md5
`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootImpl.run(args)
		},
	}
	registerFlags(rootCmd)
	return rootCmd
}

// Execute runs the CLI and maps any fatal error to exit code 1.
func Execute() {
	log.SetHandler(clihandler.New(os.Stderr))
	if err := RootCmd().Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

type rootImplConfig struct {
	output    string
	gsi       string
	reference string
	oldModel  string
	newModel  string
	revision  string
	exclude   []string

	modelReplace bool
	altSuper     bool
	repack       bool
	keepTemp     bool
	verbose      bool
}

var rootImpl rootImplConfig

func registerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rootImpl.output, "output", "o", "", "output directory (required)")
	cmd.Flags().StringVarP(&rootImpl.gsi, "gsi", "", "", "replacement system image (.img or .img.xz)")
	cmd.Flags().StringVarP(&rootImpl.reference, "reference", "", "", "reference image carrying the device-identity section (.img or .img.lz4)")
	cmd.Flags().StringVarP(&rootImpl.oldModel, "old-model", "", "", "old device model string (overrides filename-derived detection)")
	cmd.Flags().StringVarP(&rootImpl.newModel, "new-model", "", "", "new device model string (requires --experimental-model-replace)")
	cmd.Flags().StringVarP(&rootImpl.revision, "revision", "", "", "desired firmware revision (a single character)")
	cmd.Flags().StringArrayVarP(&rootImpl.exclude, "exclude", "", nil, "partition file name to drop from all output (repeatable)")
	cmd.Flags().BoolVarP(&rootImpl.modelReplace, "experimental-model-replace", "", false, "substitute the device model string throughout the images")
	cmd.Flags().BoolVarP(&rootImpl.altSuper, "experimental-alt-super", "", false, "emit the rebuilt super image sparse instead of raw")
	cmd.Flags().BoolVarP(&rootImpl.repack, "repack", "", false, "rebuild a .tar.md5 bundle instead of an image directory")
	cmd.Flags().BoolVarP(&rootImpl.keepTemp, "keep-temp", "", false, "keep the scratch directory for inspection")
	cmd.Flags().BoolVarP(&rootImpl.verbose, "verbose", "v", false, "debug logging, including extracted parameter values")
}

func (r *rootImplConfig) run(args []string) error {
	if r.verbose {
		log.SetLevel(log.DebugLevel)
	}
	cfg := pipeline.Config{
		InputPath:     args[0],
		OutputDir:     r.output,
		GSIPath:       r.gsi,
		ReferencePath: r.reference,
		OldModel:      r.oldModel,
		NewModel:      r.newModel,
		Exclude:       r.exclude,
		ModelReplace:  r.modelReplace,
		AltSuper:      r.altSuper,
		Repack:        r.repack,
		KeepTemp:      r.keepTemp,
		Verbose:       r.verbose,
	}
	if r.revision != "" {
		if len(r.revision) != 1 {
			return fmt.Errorf("--revision takes a single character, got %q", r.revision)
		}
		cfg.Revision = r.revision[0]
	}
	return pipeline.Run(cfg)
}
