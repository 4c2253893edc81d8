package eme

import (
	"net/http"
	"time"

	"github.com/valotvince/goeme/mediakeys"
)

// Config is the configuration surface consumed by the controller.
type Config struct {
	// Enabled gates all controller activity. When false every event
	// handler is a no-op.
	Enabled bool

	// KeySystems lists key systems in preference order. Only the first
	// entry is ever negotiated; the rest are reserved for future
	// multi-key-system selection.
	KeySystems []KeySystem

	// LicenseURLs maps each key system to its license server.
	LicenseURLs map[KeySystem]string

	// ServerCertificate carries statically configured certificate bytes.
	// When empty, ServerCertificateURL is fetched instead.
	ServerCertificate    []byte
	ServerCertificateURL string

	// LicenseRequestHook may customize method, headers and credentials of
	// every outgoing license request.
	LicenseRequestHook LicenseRequestHook

	// RequestMediaKeySystemAccess is the platform capability query.
	RequestMediaKeySystemAccess mediakeys.RequestAccessFunc
}

func (c Config) licenseURL(keySystem KeySystem) string {
	return c.LicenseURLs[keySystem]
}

func (c Config) firstKeySystem() KeySystem {
	if len(c.KeySystems) == 0 {
		return Widevine
	}
	return c.KeySystems[0]
}

var defaultHTTPClient = &http.Client{
	Timeout: 20 * time.Second,
}
