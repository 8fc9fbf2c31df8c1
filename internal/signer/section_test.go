package signer_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sgsi/aprepack/internal/signer"
)

// makeSection builds a syntactically valid device-identity section.
func makeSection(model string) []byte {
	sec := make([]byte, signer.SectionLen)
	copy(sec, signer.SectionTag)
	copy(sec[16:], "1234567")
	copy(sec[32:], model)
	copy(sec[64:], "20240101")
	copy(sec[80:], "SM-SW")
	copy(sec[112:], "1.0.0")
	return sec
}

// embed places section inside a larger blob at off, padding with 0xff.
func embed(section []byte, off, total int) []byte {
	blob := bytes.Repeat([]byte{0xff}, total)
	copy(blob[off:], section)
	return blob
}

func TestExtract(t *testing.T) {
	const model = "F711BXXS8HXF2"
	blob := embed(makeSection(model), 512, 4096)

	p, err := signer.Extract(blob)
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset != 512 {
		t.Errorf("Offset = %d, want 512", p.Offset)
	}
	if p.DeviceModel != model {
		t.Errorf("DeviceModel = %q, want %q", p.DeviceModel, model)
	}
	if p.SignerVersion != signer.SectionTag {
		t.Errorf("SignerVersion = %q, want %q", p.SignerVersion, signer.SectionTag)
	}
	if got, want := len(p.Section), signer.SectionLen; got != want {
		t.Errorf("len(Section) = %d, want %d", got, want)
	}
}

func TestExtractLastOccurrenceWins(t *testing.T) {
	// An earlier false-positive tag in padding, then the real section.
	blob := bytes.Repeat([]byte{0xff}, 8192)
	copy(blob[100:], signer.SectionTag) // padding artifact, fields all 0xff
	copy(blob[4096:], makeSection("F711BXXS8HXF2"))

	p, err := signer.Extract(blob)
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset != 4096 {
		t.Errorf("Offset = %d, want the last occurrence at 4096", p.Offset)
	}
}

func TestExtractErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		blob []byte
	}{
		{"no marker", bytes.Repeat([]byte{0xff}, 1024)},
		{"truncated window", append(bytes.Repeat([]byte{0xff}, 64), []byte(signer.SectionTag)...)},
		{"empty model", embed(makeSection(""), 0, 1024)},
		{"literal null model", embed(makeSection("null"), 0, 1024)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signer.Extract(tt.blob); err == nil {
				t.Error("Extract succeeded, want error")
			}
		})
	}
}

func TestDetectModels(t *testing.T) {
	blob := embed(makeSection("F711BXXS8HXF2"), 1024, 8192)
	copy(blob[256:], "G991BXXU5CVGB")
	copy(blob[512:], "A525FXXU4BVD1")

	got := signer.DetectModels(blob, "")
	// The section model is promoted to the front, the rest sorted.
	want := []string{"F711BXXS8HXF2", "A525FXXU4BVD1", "G991BXXU5CVGB"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectModels: diff (-want +got):\n%s", diff)
	}

	got = signer.DetectModels(blob, "G991BXXU5CVGB")
	if got[0] != "G991BXXU5CVGB" {
		t.Errorf("preferred model not promoted: got %v", got)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	blob := embed(makeSection("F711BXXS8HXF2"), 0, 1024)
	p, err := signer.Extract(blob)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := p.WriteMetadata(dir); err != nil {
		t.Fatal(err)
	}
	meta, err := signer.ReadMetadata(dir + "/" + signer.MetadataFilename)
	if err != nil {
		t.Fatal(err)
	}
	if meta.DeviceModel != p.DeviceModel {
		t.Errorf("DeviceModel = %q, want %q", meta.DeviceModel, p.DeviceModel)
	}
	if meta.Date != p.Date {
		t.Errorf("Date = %q, want %q", meta.Date, p.Date)
	}
}
