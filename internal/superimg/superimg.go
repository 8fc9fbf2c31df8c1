// Package superimg computes the dynamic-partition metadata for a rebuilt
// super image and drives the external lpmake packer.
package superimg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// MetadataSize is the fixed size reserved for the partition metadata.
	MetadataSize = 65536

	// DefaultSlots keeps the metadata A/B-capable even when only one slot
	// is populated.
	DefaultSlots = 2

	// DefaultGroup is the single update group all partitions belong to.
	DefaultGroup = "main"
)

// Entry describes one logical partition inside the super image.
type Entry struct {
	Name  string // partition name, e.g. "system"
	Size  uint64 // exact post-modification image size in bytes
	Group string
	Image string // path to the source image
}

// Manifest is the container metadata handed to lpmake. It is synthesized
// immediately before packing and discarded afterwards.
type Manifest struct {
	DeviceSize   uint64
	MetadataSize uint64
	SlotCount    int
	GroupName    string
	GroupSize    uint64
	Entries      []Entry
}

// Synthesize builds a Manifest from the component images in dir (every
// *.img file is one logical partition). Sizes are the current on-disk
// sizes, so a substituted image of a different size shifts the computed
// device size accordingly. Entries are ordered lexicographically by name;
// identical inputs always yield an identical table layout.
func Synthesize(dir string) (*Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.img"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no component images in %s", dir)
	}
	m := &Manifest{
		MetadataSize: MetadataSize,
		SlotCount:    DefaultSlots,
		GroupName:    DefaultGroup,
	}
	var total uint64
	for _, img := range matches {
		st, err := os.Stat(img)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(img), ".img")
		m.Entries = append(m.Entries, Entry{
			Name:  name,
			Size:  uint64(st.Size()),
			Group: m.GroupName,
			Image: img,
		})
		total += uint64(st.Size())
	}
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Name < m.Entries[j].Name
	})
	m.DeviceSize = total + m.MetadataSize
	m.GroupSize = m.DeviceSize
	return m, nil
}

// Check verifies the size invariant before the manifest is handed to the
// packer.
func (m *Manifest) Check() error {
	var total uint64
	for _, e := range m.Entries {
		if e.Image == "" {
			return fmt.Errorf("partition %s has no source image", e.Name)
		}
		total += e.Size
	}
	if total+m.MetadataSize > m.DeviceSize {
		return fmt.Errorf("partitions need %d bytes + %d metadata, device holds only %d",
			total, m.MetadataSize, m.DeviceSize)
	}
	return nil
}

// LpmakeArgs renders the manifest as an lpmake command line producing
// output. All partitions are marked readonly.
func (m *Manifest) LpmakeArgs(output string) []string {
	args := []string{
		"--metadata-size", strconv.FormatUint(m.MetadataSize, 10),
		"--super-name", "super",
		"--metadata-slots", strconv.Itoa(m.SlotCount),
		"--device", fmt.Sprintf("super:%d", m.DeviceSize),
		"--group", fmt.Sprintf("%s:%d", m.GroupName, m.GroupSize),
	}
	for _, e := range m.Entries {
		args = append(args,
			"--partition", fmt.Sprintf("%s:readonly:%d:%s", e.Name, e.Size, e.Group),
			"--image", fmt.Sprintf("%s=%s", e.Name, e.Image),
		)
	}
	return append(args, "--output", output)
}
