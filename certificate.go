package eme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// fetchServerCertificate resolves the server certificate either from
// statically configured bytes or with a one-shot GET to the configured
// certificate URL. It never retries.
func (c *Controller) fetchServerCertificate(ctx context.Context) ([]byte, error) {
	if len(c.cfg.ServerCertificate) > 0 {
		return c.cfg.ServerCertificate, nil
	}
	if c.cfg.ServerCertificateURL == "" {
		return nil, errors.New("no server certificate configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerCertificateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build certificate request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch server certificate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch server certificate: unexpected status %d", resp.StatusCode)
	}
	cert, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read certificate body: %w", err)
	}
	return cert, nil
}
