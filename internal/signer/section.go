package signer

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
)

const (
	// SectionTag marks the start of the device-identity section.
	SectionTag = "SignerVer02"

	// SectionLen is the fixed length of the section window, starting at
	// the tag itself.
	SectionLen = 128
)

// Field offsets inside the section window. Each field is a NUL-padded
// ASCII string.
const (
	signerVersionStart, signerVersionEnd     = 0, 15
	numberStart, numberEnd                   = 16, 31
	deviceModelStart, deviceModelEnd         = 32, 63
	dateStart, dateEnd                       = 64, 78
	softwareModelStart, softwareModelEnd     = 80, 111
	softwareVersionStart, softwareVersionEnd = 112, 127
)

// Params is the extracted device-identity section together with its decoded
// metadata fields.
type Params struct {
	SignerVersion   string
	Number          string
	DeviceModel     string
	Date            string
	SoftwareModel   string
	SoftwareVersion string

	// Section is the verbatim SectionLen-byte window, suitable for
	// grafting into other images.
	Section []byte

	// Offset is where the window starts in the source blob.
	Offset int
}

func trimField(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		b = b[:idx]
	}
	return string(b)
}

// Extract locates the device-identity section in blob and decodes its
// fields. The last occurrence of the tag wins. An absent tag, a truncated
// window or a missing device model make the blob unusable as a reference
// image, so all three are errors.
func Extract(blob []byte) (*Params, error) {
	off, ok := Anchor(SectionTag).FindLast(blob)
	if !ok {
		return nil, fmt.Errorf("no %s section found", SectionTag)
	}
	if off+SectionLen > len(blob) {
		return nil, fmt.Errorf("%s section at offset %#x truncated (blob is %d bytes)", SectionTag, off, len(blob))
	}
	section := make([]byte, SectionLen)
	copy(section, blob[off:off+SectionLen])
	p := &Params{
		SignerVersion:   trimField(section[signerVersionStart:signerVersionEnd]),
		Number:          trimField(section[numberStart:numberEnd]),
		DeviceModel:     trimField(section[deviceModelStart:deviceModelEnd]),
		Date:            trimField(section[dateStart:dateEnd]),
		SoftwareModel:   trimField(section[softwareModelStart:softwareModelEnd]),
		SoftwareVersion: trimField(section[softwareVersionStart:softwareVersionEnd]),
		Section:         section,
		Offset:          off,
	}
	if p.DeviceModel == "" || p.DeviceModel == "null" {
		return nil, fmt.Errorf("%s section at offset %#x carries no device model", SectionTag, off)
	}
	return p, nil
}

// modelRe matches vendor device model strings like F711BXXS8HXF2.
var modelRe = regexp.MustCompile(`[A-Z][0-9]{3}[A-Z]{2}[A-Z0-9]{6,12}`)

// DetectModels returns the candidate device model strings found in blob,
// most plausible first: a preferred model (if present in blob) wins, then
// the model from the device-identity section, then the remaining matches
// in sorted order.
func DetectModels(blob []byte, preferred string) []string {
	seen := make(map[string]bool)
	var models []string
	for _, m := range modelRe.FindAll(blob, -1) {
		s := string(m)
		if len(s) < 10 || len(s) > 20 || seen[s] {
			continue
		}
		seen[s] = true
		models = append(models, s)
	}
	sort.Strings(models)
	promote := func(model string) {
		if model == "" || !seen[model] {
			return
		}
		reordered := []string{model}
		for _, m := range models {
			if m != model {
				reordered = append(reordered, m)
			}
		}
		models = reordered
	}
	if p, err := Extract(blob); err == nil {
		promote(p.DeviceModel)
	}
	promote(preferred)
	return models
}
