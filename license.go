package eme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/valotvince/goeme/mediakeys"
)

// maxLicenseRequestFailures bounds the shared failure counter. The budget
// is global per attach lifecycle, not per key-system entry.
const maxLicenseRequestFailures = 3

// LicenseRequestHook may rewrite method, headers and credentials of an
// outgoing license request. It receives the extracted key identifier as
// auxiliary context when one is known, empty otherwise.
type LicenseRequestHook func(req *http.Request, keyID string) error

// requestLicense builds a transport challenge from a CDM-issued message,
// dispatches it and hands the response body to onLicense. Every non-200
// outcome increments the shared failure counter and re-issues the same
// request immediately until the counter exceeds the retry bound, at which
// point a fatal condition is raised and no further retry occurs.
func (c *Controller) requestLicense(ctx context.Context, msg mediakeys.Message, onLicense func(license []byte)) {
	entry := c.activeEntry()
	if entry == nil {
		c.emitError(&KeySystemError{Detail: DetailNoKeySystemAccess, Fatal: true, Err: errNoActiveEntry})
		return
	}
	licenseURL := c.cfg.licenseURL(entry.keySystem)
	if licenseURL == "" {
		c.emitError(&KeySystemError{
			Detail: DetailNoKeySystemAccess,
			Fatal:  true,
			Err:    fmt.Errorf("no license url configured for %s", entry.keySystem),
		})
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := c.newLicenseRequest(ctx, licenseURL, entry, msg)
		if err != nil {
			c.emitError(&KeySystemError{Detail: DetailLicenseRequestFailed, Fatal: true, Err: err})
			return
		}

		body, status, err := c.doLicenseRequest(req)
		if err == nil && status == http.StatusOK {
			c.mu.Lock()
			c.licenseFailures = 0
			c.mu.Unlock()
			c.logger.Debug("license received",
				zap.String("keySystem", string(entry.keySystem)),
				zap.Int("bytes", len(body)))
			onLicense(body)
			return
		}

		c.mu.Lock()
		c.licenseFailures++
		failures := c.licenseFailures
		c.mu.Unlock()

		if failures > maxLicenseRequestFailures {
			if err == nil {
				err = fmt.Errorf("license server answered status %d", status)
			}
			c.emitError(&KeySystemError{Detail: DetailLicenseRequestFailed, Fatal: true, Err: err})
			return
		}
		c.logger.Warn("license request failed, retrying",
			zap.String("url", licenseURL),
			zap.Int("status", status),
			zap.Int("failures", failures),
			zap.Error(err))
	}
}

// newLicenseRequest opens a request carrying the CDM message verbatim as
// the challenge. For both supported key systems the wire challenge is the
// message itself; no unwrapping is performed. The configured hook runs
// before dispatch; if it fails on the first invocation the pipeline opens
// a fresh request itself and retries the hook exactly once.
func (c *Controller) newLicenseRequest(ctx context.Context, licenseURL string, entry *keySystemEntry, msg mediakeys.Message) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, licenseURL, bytes.NewReader(msg.Data))
	if err != nil {
		return nil, fmt.Errorf("build license request: %w", err)
	}
	if c.cfg.LicenseRequestHook == nil {
		return req, nil
	}

	keyID := entry.extractedKeyID()
	if hookErr := c.cfg.LicenseRequestHook(req, keyID); hookErr != nil {
		c.logger.Warn("license request hook failed, retrying once", zap.Error(hookErr))
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, licenseURL, bytes.NewReader(msg.Data))
		if err != nil {
			return nil, fmt.Errorf("reopen license request: %w", err)
		}
		if hookErr = c.cfg.LicenseRequestHook(req, keyID); hookErr != nil {
			return nil, fmt.Errorf("license request hook: %w", hookErr)
		}
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	return req, nil
}

func (c *Controller) doLicenseRequest(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("dispatch license request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read license response: %w", err)
	}
	return body, resp.StatusCode, nil
}

var errNoActiveEntry = errors.New("license requested without key system access")
