package bundle

import "strings"

// State is the terminal routing decision for one partition. Every
// partition starts pending and ends in exactly one of the four terminal
// states, which determines what output artifact (if any) it produces.
type State int

const (
	StatePending State = iota
	// StateExcluded partitions are dropped from all output.
	StateExcluded
	// StateContainerMember routes the partition to the super-image
	// synthesizer instead of the flat transplant path.
	StateContainerMember
	// StateModified partitions run through the round-trip, transplant and
	// revision-patch steps.
	StateModified
	// StatePassThrough partitions are decompressed and copied unchanged.
	StatePassThrough
)

func (s State) String() string {
	switch s {
	case StateExcluded:
		return "excluded"
	case StateContainerMember:
		return "container-member"
	case StateModified:
		return "modified"
	case StatePassThrough:
		return "pass-through"
	}
	return "pending"
}

// Filter decides the terminal state of each partition.
type Filter struct {
	// Exclude holds partition file names (decompressed form) that never
	// reach the output.
	Exclude map[string]bool

	// ContainerName is the file name of the nested container image,
	// usually "super.img".
	ContainerName string

	// Modify reports whether a parameter/reference source was supplied,
	// i.e. whether flat images go through the modification path at all.
	Modify bool
}

// Classify evaluates the transition rules in priority order: exclusion
// first, then container routing, then modification, then pass-through.
// name may be the compressed or decompressed member name.
func (f *Filter) Classify(name string) State {
	plain := strings.TrimSuffix(name, ".lz4")
	if f.Exclude[plain] || f.Exclude[name] {
		return StateExcluded
	}
	if plain == f.ContainerName {
		return StateContainerMember
	}
	if f.Modify {
		return StateModified
	}
	return StatePassThrough
}
