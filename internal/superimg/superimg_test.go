package superimg_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sgsi/aprepack/internal/superimg"
)

func writeImage(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{0xaa}, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSynthesize(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "vendor.img", 500)
	writeImage(t, dir, "system.img", 2000)
	writeImage(t, dir, "product.img", 300)

	m, err := superimg.Synthesize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(2800 + superimg.MetadataSize); m.DeviceSize != want {
		t.Errorf("DeviceSize = %d, want %d", m.DeviceSize, want)
	}
	if m.GroupSize != m.DeviceSize {
		t.Errorf("GroupSize = %d, want DeviceSize %d", m.GroupSize, m.DeviceSize)
	}

	var names []string
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	// Deterministic lexicographic order regardless of readdir order.
	if diff := cmp.Diff([]string{"product", "system", "vendor"}, names); diff != "" {
		t.Errorf("entry order: diff (-want +got):\n%s", diff)
	}

	if err := m.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestSynthesizeUsesPostModificationSizes(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "system.img", 2400)
	writeImage(t, dir, "vendor.img", 500)

	before, err := superimg.Synthesize(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Substituting a larger system image must shift the device size by
	// exactly the size delta.
	writeImage(t, dir, "system.img", 3100)
	after, err := superimg.Synthesize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := after.DeviceSize-before.DeviceSize, uint64(700); got != want {
		t.Errorf("device size shifted by %d, want %d", got, want)
	}
}

func TestSynthesizeEmptyDir(t *testing.T) {
	if _, err := superimg.Synthesize(t.TempDir()); err == nil {
		t.Error("Synthesize succeeded on an empty directory")
	}
}

func TestCheckRejectsOversizedTable(t *testing.T) {
	m := &superimg.Manifest{
		DeviceSize:   1000,
		MetadataSize: superimg.MetadataSize,
		Entries: []superimg.Entry{
			{Name: "system", Size: 1000, Group: "main", Image: "/x/system.img"},
		},
	}
	if err := m.Check(); err == nil {
		t.Error("Check accepted a table exceeding the device size")
	}
}

func TestLpmakeArgs(t *testing.T) {
	m := &superimg.Manifest{
		DeviceSize:   2800 + superimg.MetadataSize,
		MetadataSize: superimg.MetadataSize,
		SlotCount:    2,
		GroupName:    "main",
		GroupSize:    2800 + superimg.MetadataSize,
		Entries: []superimg.Entry{
			{Name: "system", Size: 2000, Group: "main", Image: "/s/system.img"},
			{Name: "vendor", Size: 800, Group: "main", Image: "/s/vendor.img"},
		},
	}
	got := m.LpmakeArgs("/out/super.img")
	want := []string{
		"--metadata-size", "65536",
		"--super-name", "super",
		"--metadata-slots", "2",
		"--device", "super:68336",
		"--group", "main:68336",
		"--partition", "system:readonly:2000:main",
		"--image", "system=/s/system.img",
		"--partition", "vendor:readonly:800:main",
		"--image", "vendor=/s/vendor.img",
		"--output", "/out/super.img",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LpmakeArgs: diff (-want +got):\n%s", diff)
	}
}
