package signer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Metadata is the JSON side-channel representation of the extracted
// parameters, written next to the output images for downstream tooling.
type Metadata struct {
	SignerVersion   string `json:"signer_version"`
	Number          string `json:"number"`
	DeviceModel     string `json:"device_model"`
	Date            string `json:"date"`
	SoftwareModel   string `json:"software_model"`
	SoftwareVersion string `json:"software_version"`
}

const (
	MetadataFilename = "params.json"
	SectionFilename  = "signer.bin"
)

// WriteMetadata persists the decoded fields as params.json and the raw
// section window as signer.bin in dir. Both writes are atomic so a crashed
// run never leaves a half-written side channel behind.
func (p *Params) WriteMetadata(dir string) error {
	meta := Metadata{
		SignerVersion:   p.SignerVersion,
		Number:          p.Number,
		DeviceModel:     p.DeviceModel,
		Date:            p.Date,
		SoftwareModel:   p.SoftwareModel,
		SoftwareVersion: p.SoftwareVersion,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(dir, MetadataFilename), append(b, '\n'), 0644); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, SectionFilename), p.Section, 0644)
}

// ReadMetadata reads a params.json side-channel file, exposing (among the
// other fields) the device model recorded by a previous extraction.
func ReadMetadata(path string) (*Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
