package eme

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/tidwall/gjson"
)

// WidevineSystemID is the protection system UUID for Widevine.
const WidevineSystemID = "edef8ba979d64acea3c827dcd51d21ed"

// keyIDFromSinfInitData extracts the default key identifier from FairPlay
// sinf init data. The logical content is a JSON document whose "sinf" field
// holds a base64-encoded sequence of protection boxes; the key identifier
// lives in the tenc box nested inside schi. A missing box is a normal "no
// key id available" outcome, not an error.
func keyIDFromSinfInitData(initData []byte) (string, error) {
	field := gjson.GetBytes(initData, "sinf")
	if !field.Exists() {
		return "", fmt.Errorf("init data has no sinf field")
	}
	raw, err := base64.StdEncoding.DecodeString(field.String())
	if err != nil {
		return "", fmt.Errorf("decode sinf payload: %w", err)
	}
	tenc := findTenc(raw)
	if tenc == nil {
		return "", nil
	}
	return hex.EncodeToString(tenc.DefaultKID[:]), nil
}

// findTenc scans the top-level boxes of b for schi/tenc. Anything the box
// decoder cannot make sense of ends the scan without a key identifier.
func findTenc(b []byte) *mp4.TencBox {
	r := bytes.NewReader(b)
	var pos uint64
	for pos < uint64(len(b)) {
		box, err := mp4.DecodeBox(pos, r)
		if err != nil {
			return nil
		}
		switch bx := box.(type) {
		case *mp4.SchiBox:
			if bx.Tenc != nil {
				return bx.Tenc
			}
		case *mp4.SinfBox:
			if bx.Schi != nil && bx.Schi.Tenc != nil {
				return bx.Schi.Tenc
			}
		}
		if box.Size() == 0 {
			return nil
		}
		pos += box.Size()
	}
	return nil
}

// PSSH wraps a parsed cenc pssh box.
type PSSH struct {
	box *mp4.PsshBox
}

// ParsePSSH decodes a single pssh box from the given init data.
func ParsePSSH(b []byte) (*PSSH, error) {
	box, err := mp4.DecodeBox(0, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode box: %w", err)
	}

	psshBox, ok := box.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("box is a %s instead of a pssh", box.Type())
	}

	return &PSSH{box: psshBox}, nil
}

func (p *PSSH) Version() byte { return p.box.Version }

// SystemID returns the protection system UUID as lowercase hex.
func (p *PSSH) SystemID() string {
	return hex.EncodeToString(p.box.SystemID)
}

// KeyIDs returns the key identifiers carried by the box itself (version 1
// boxes only) as lowercase hex strings.
func (p *PSSH) KeyIDs() []string {
	ids := make([]string, 0, len(p.box.KIDs))
	for _, kid := range p.box.KIDs {
		ids = append(ids, hex.EncodeToString(kid[:]))
	}
	return ids
}

// Data returns the scheme-specific payload of the box.
func (p *PSSH) Data() []byte { return p.box.Data }
