package eme

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(boxType string, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], boxType)
	return append(b, payload...)
}

func tencBox(kid []byte) []byte {
	payload := make([]byte, 0, 24)
	payload = append(payload, 0, 0, 0, 0) // version, flags
	payload = append(payload, 0, 0)       // reserved
	payload = append(payload, 1, 8)       // protected, per-sample IV size
	payload = append(payload, kid...)
	return box("tenc", payload)
}

func sinfInitData(boxes ...[]byte) []byte {
	var raw []byte
	for _, b := range boxes {
		raw = append(raw, b...)
	}
	doc := fmt.Sprintf(`{"sinf":%q}`, base64.StdEncoding.EncodeToString(raw))
	return []byte(doc)
}

func TestKeyIDFromSinfInitData(t *testing.T) {
	kid, err := hex.DecodeString("4004dc1e5a4e0087f555d75ae1c95720")
	require.NoError(t, err)

	initData := sinfInitData(
		box("frma", []byte("avc1")),
		box("schi", tencBox(kid)),
	)

	keyID, err := keyIDFromSinfInitData(initData)
	require.NoError(t, err)
	assert.Equal(t, "4004dc1e5a4e0087f555d75ae1c95720", keyID)
}

func TestKeyIDFromSinfInitDataNoTenc(t *testing.T) {
	// No schi/tenc in the payload: a normal empty outcome, not an error.
	initData := sinfInitData(box("frma", []byte("avc1")))

	keyID, err := keyIDFromSinfInitData(initData)
	require.NoError(t, err)
	assert.Empty(t, keyID)
}

func TestKeyIDFromSinfInitDataMalformedBoxes(t *testing.T) {
	doc := fmt.Sprintf(`{"sinf":%q}`, base64.StdEncoding.EncodeToString([]byte("notabox")))

	keyID, err := keyIDFromSinfInitData([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, keyID)
}

func TestKeyIDFromSinfInitDataErrors(t *testing.T) {
	tests := []struct {
		name     string
		initData string
	}{
		{name: "no sinf field", initData: `{"other":"Zm9v"}`},
		{name: "invalid base64", initData: `{"sinf":"%%%"}`},
	}

	for _, tt := range tests {
		_, err := keyIDFromSinfInitData([]byte(tt.initData))
		assert.Error(t, err, tt.name)
	}
}

func convertPSSH(t *testing.T, b64 string) []byte {
	b, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	return b
}

func TestParsePSSH(t *testing.T) {
	pssh := convertPSSH(t, "AAAAU3Bzc2gAAAAA7e+LqXnWSs6jyCfc1R0h7QAAADMIARIQQATcHlpOAIf1Vdda4clXIBoHc3BvdGlmeSIUQATcHlpOAIf1Vdda4clXIDt20eY=")
	p, err := ParsePSSH(pssh)
	require.NoError(t, err)

	assert.Equal(t, byte(0), p.Version())
	assert.Equal(t, WidevineSystemID, p.SystemID())
	assert.Empty(t, p.KeyIDs())
	assert.Equal(t,
		"080112104004dc1e5a4e0087f555d75ae1c957201a0773706f7469667922144004dc1e5a4e0087f555d75ae1c957203b76d1e6",
		hex.EncodeToString(p.Data()))
}

func TestParsePSSHVersion1KeyIDs(t *testing.T) {
	systemID, err := hex.DecodeString(WidevineSystemID)
	require.NoError(t, err)
	kid, err := hex.DecodeString("4004dc1e5a4e0087f555d75ae1c95720")
	require.NoError(t, err)

	payload := []byte{0x01, 0, 0, 0} // version 1, no flags
	payload = append(payload, systemID...)
	payload = binary.BigEndian.AppendUint32(payload, 1)
	payload = append(payload, kid...)
	payload = binary.BigEndian.AppendUint32(payload, 0)

	p, err := ParsePSSH(box("pssh", payload))
	require.NoError(t, err)

	assert.Equal(t, byte(1), p.Version())
	assert.Equal(t, []string{"4004dc1e5a4e0087f555d75ae1c95720"}, p.KeyIDs())
	assert.Empty(t, p.Data())
}

func TestParsePSSHFail(t *testing.T) {
	tests := []struct {
		name string
		pssh string
	}{
		{name: "invalid box", pssh: "ZmFpbA=="},
		{name: "invalid box type", pssh: "AAAAGGN0dHMAAAAAAAAAAQAAAAAAAAAB"},
	}

	for _, tt := range tests {
		_, err := ParsePSSH(convertPSSH(t, tt.pssh))
		assert.Error(t, err, tt.name)
	}
}
