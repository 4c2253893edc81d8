package eme

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKeySystem is returned synchronously when a key system
// identifier outside the supported set is requested.
var ErrUnsupportedKeySystem = errors.New("unsupported key system")

// ErrorDetail enumerates the failure conditions surfaced to the host.
type ErrorDetail string

const (
	DetailNoKeySystemAccess        ErrorDetail = "keySystemNoAccess"
	DetailNoKeys                   ErrorDetail = "keySystemNoKeys"
	DetailNoSession                ErrorDetail = "keySystemNoSession"
	DetailNoInitData               ErrorDetail = "keySystemNoInitData"
	DetailCertificateRequestFailed ErrorDetail = "keySystemCertificateRequestFailed"
	DetailLicenseRequestFailed     ErrorDetail = "keySystemLicenseRequestFailed"
)

// KeySystemError is the structured error notification emitted by the
// controller. Asynchronous failures cannot propagate as return values to a
// caller who already returned, so every fatal condition is delivered
// through the configured error handler instead.
type KeySystemError struct {
	Detail ErrorDetail
	Fatal  bool
	Err    error
}

func (e *KeySystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key system error %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("key system error %s", e.Detail)
}

func (e *KeySystemError) Unwrap() error { return e.Err }
