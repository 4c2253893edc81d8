package eme

import (
	"fmt"

	"github.com/valotvince/goeme/mediakeys"
)

// KeySystem identifies a platform content-protection module.
type KeySystem string

const (
	// Widevine delivers init data through cenc pssh boxes.
	Widevine KeySystem = "com.widevine.alpha"
	// FairPlay delivers the key identifier in-band inside sinf init data
	// and requires a server certificate before keys can be created.
	FairPlay KeySystem = "com.apple.fps.1_0"
)

const (
	InitDataTypeCenc = "cenc"
	InitDataTypeSinf = "sinf"
)

// supportedConfigurations builds the ordered list of acceptable platform
// configurations for a key system, mapping each required codec into a
// content-type descriptor. It fails before any asynchronous negotiation
// starts, so callers can react to an unsupported identifier right away.
func supportedConfigurations(keySystem KeySystem, audioCodecs, videoCodecs []string) ([]mediakeys.SystemConfiguration, error) {
	switch keySystem {
	case Widevine:
		return []mediakeys.SystemConfiguration{{
			InitDataTypes:     []string{InitDataTypeCenc},
			AudioCapabilities: capabilities("audio/mp4", audioCodecs),
			VideoCapabilities: capabilities("video/mp4", videoCodecs),
		}}, nil
	case FairPlay:
		return []mediakeys.SystemConfiguration{{
			InitDataTypes:     []string{InitDataTypeSinf},
			AudioCapabilities: capabilities("audio/mp4", audioCodecs),
			VideoCapabilities: capabilities("video/mp4", videoCodecs),
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeySystem, keySystem)
	}
}

func capabilities(container string, codecs []string) []mediakeys.MediaCapability {
	caps := make([]mediakeys.MediaCapability, 0, len(codecs))
	for _, codec := range codecs {
		caps = append(caps, mediakeys.MediaCapability{
			ContentType: fmt.Sprintf("%s; codecs=%q", container, codec),
		})
	}
	return caps
}

// requiresServerCertificate reports whether the key system cannot create
// keys before a server certificate has been applied.
func requiresServerCertificate(keySystem KeySystem) bool {
	return keySystem == FairPlay
}
