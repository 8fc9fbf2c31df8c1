package pipeline

import (
	"fmt"
	"strings"
)

// The fatal error classes. Per-partition problems (conversion, transplant,
// revision patch) are deliberately not represented here: they are logged
// as warnings and never abort the loop.

// ValidationError reports bad or missing required input, detected before
// the pipeline starts.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid invocation: " + e.Msg
}

// ToolUnavailableError reports missing external collaborators, detected
// before the pipeline starts.
type ToolUnavailableError struct {
	Tools []string
}

func (e *ToolUnavailableError) Error() string {
	return "required tools not found in PATH: " + strings.Join(e.Tools, ", ")
}

// ExtractionError reports that the reference image lacks a usable
// device-identity section. Nothing downstream can proceed without the
// extracted model and section.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting parameters from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AssemblyError reports a failed final pack or archive step. No partial
// output is usable.
type AssemblyError struct {
	Step string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
