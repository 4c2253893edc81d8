// Package mediakeys defines the boundary with the platform content
// decryption module. The eme package never talks to a concrete CDM
// directly; it is handed a RequestAccessFunc and works against the
// interfaces below, so the real platform API can be substituted in tests.
package mediakeys

import "context"

// MediaCapability describes a single container/codec combination a key
// system is asked to support.
type MediaCapability struct {
	ContentType string
}

// SystemConfiguration is one acceptable content-protection configuration,
// shaped after MediaKeySystemConfiguration from the EME specification.
type SystemConfiguration struct {
	InitDataTypes     []string
	AudioCapabilities []MediaCapability
	VideoCapabilities []MediaCapability
}

// Message is issued by a key session once the CDM has produced a license
// challenge (or any other scheme-specific payload) that must be forwarded
// to a license server.
type Message struct {
	Type string
	Data []byte
}

// Session is a stateful protocol conversation with the CDM. GenerateRequest
// is one-shot per session; resulting messages are delivered on the channel
// returned by Messages, which is closed when the session ends.
type Session interface {
	GenerateRequest(ctx context.Context, initDataType string, initData []byte) error
	Messages() <-chan Message
	Update(ctx context.Context, response []byte) error
	Close() error
}

// MediaKeys is the CDM key container created from a granted system access.
type MediaKeys interface {
	CreateSession() (Session, error)
	SetServerCertificate(ctx context.Context, cert []byte) error
}

// SystemAccess is the opaque capability token obtained from the platform
// for one key system.
type SystemAccess interface {
	KeySystem() string
	CreateMediaKeys(ctx context.Context) (MediaKeys, error)
}

// RequestAccessFunc is the platform capability query. It may reject if the
// platform cannot satisfy any of the listed configurations.
type RequestAccessFunc func(ctx context.Context, keySystem string, configs []SystemConfiguration) (SystemAccess, error)
