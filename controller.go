// Package eme negotiates decryption capability with a platform content
// decryption module, manages key sessions and drives the license
// acquisition protocol for a streaming media client.
package eme

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/valotvince/goeme/mediakeys"
)

// Media is the media sink handle carried by the attached signal. The
// returned remove function unregisters the encrypted listener.
type Media interface {
	SetMediaKeys(keys mediakeys.MediaKeys) error
	OnEncrypted(fn func(initDataType string, initData []byte)) (remove func())
}

// Rendition carries the codec descriptors of one level of the loaded
// content, as resolved by the manifest parser.
type Rendition struct {
	AudioCodec string
	VideoCodec string
}

// entryState tracks the lifecycle of one key-system entry. Request
// generation is one-shot: both terminal states refuse another attempt.
type entryState int

const (
	stateKeyContainerPending entryState = iota
	stateSessionCreated
	stateRequestGenerated
	stateRequestFailed
)

// keySystemEntry holds the handles obtained for one attempted key system.
// Handles are owned exclusively by the controller; each is set once.
type keySystemEntry struct {
	keySystem KeySystem
	access    mediakeys.SystemAccess

	mu        sync.Mutex
	state     entryState
	mediaKeys mediakeys.MediaKeys
	session   mediakeys.Session
	keyID     string
}

func (e *keySystemEntry) extractedKeyID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyID
}

// negotiation is the single outstanding access-and-keys future of an
// attach lifecycle. It resolves with the CDM key container or rejects.
type negotiation struct {
	done chan struct{}
	keys mediakeys.MediaKeys
	err  error
}

func newNegotiation() *negotiation {
	return &negotiation{done: make(chan struct{})}
}

func (n *negotiation) resolve(keys mediakeys.MediaKeys) {
	n.keys = keys
	close(n.done)
}

func (n *negotiation) reject(err error) {
	n.err = err
	close(n.done)
}

func (n *negotiation) wait(ctx context.Context) (mediakeys.MediaKeys, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.done:
		return n.keys, n.err
	}
}

// Controller owns the key-system negotiation state of one media element.
// All mutation happens from the handlers of a single host event bus plus
// the goroutines the controller itself starts, every one of which is bound
// to the attach-lifecycle context and guarded by the controller mutex.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	client  *http.Client
	onError func(*KeySystemError)

	mu              sync.Mutex
	media           Media
	removeListener  func()
	renditions      []Rendition
	entries         []*keySystemEntry
	negotiation     *negotiation
	licenseFailures int
	keysApplied     bool
	ctx             context.Context
	cancel          context.CancelFunc
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHTTPClient sets the transport used for license and certificate
// requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// WithErrorHandler registers the structured error notification sink.
// Fatal conditions mean the current attach lifecycle cannot proceed.
func WithErrorHandler(fn func(*KeySystemError)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// NewController creates a controller for the given configuration.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Enabled && cfg.RequestMediaKeySystemAccess == nil {
		return nil, errors.New("eme: RequestMediaKeySystemAccess is required")
	}

	c := &Controller{
		cfg:    cfg,
		logger: zap.NewNop(),
		client: defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnMediaAttached starts an attach lifecycle and begins listening for
// encrypted notifications from the media element.
func (c *Controller) OnMediaAttached(media Media) {
	if !c.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.media = media
	c.ctx = ctx
	c.cancel = cancel
	c.mu.Unlock()

	remove := media.OnEncrypted(c.onMediaEncrypted)
	c.mu.Lock()
	c.removeListener = remove
	c.mu.Unlock()
	c.logger.Debug("media attached, listening for encrypted notifications")
}

// OnMediaDetached tears the lifecycle down: the encrypted listener is
// removed, the attach context is cancelled so in-flight work aborts, and
// all negotiation state is reset.
func (c *Controller) OnMediaDetached() {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	remove := c.removeListener
	cancel := c.cancel
	c.removeListener = nil
	c.cancel = nil
	c.mu.Unlock()

	if remove != nil {
		remove()
	}
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	c.media = nil
	c.renditions = nil
	c.entries = nil
	c.negotiation = nil
	c.licenseFailures = 0
	c.keysApplied = false
	c.ctx = nil
	c.mu.Unlock()
	c.logger.Debug("media detached, negotiation state reset")
}

// OnManifestParsed stores the rendition list used to resolve codec
// descriptors for later metadata signals.
func (c *Controller) OnManifestParsed(renditions []Rendition) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	c.renditions = append([]Rendition(nil), renditions...)
	c.mu.Unlock()
}

// OnContentMetadataLoaded reacts to loaded content detail by negotiating
// platform access for the first configured key system. Only one
// negotiation is ever started per attach lifecycle; later signals are
// ignored while one is pending or completed.
func (c *Controller) OnContentMetadataLoaded(level int) {
	if !c.cfg.Enabled {
		return
	}
	audioCodecs, videoCodecs := c.contentCodecs()
	keySystem := c.cfg.firstKeySystem()
	c.logger.Debug("content metadata loaded",
		zap.Int("level", level),
		zap.String("keySystem", string(keySystem)),
		zap.Strings("audioCodecs", audioCodecs),
		zap.Strings("videoCodecs", videoCodecs))

	if err := c.requestKeySystemAccess(keySystem, audioCodecs, videoCodecs); err != nil {
		c.emitError(&KeySystemError{Detail: DetailNoKeySystemAccess, Fatal: true, Err: err})
	}
}

func (c *Controller) contentCodecs() (audio, video []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seenAudio := map[string]bool{}
	seenVideo := map[string]bool{}
	for _, r := range c.renditions {
		if r.AudioCodec != "" && !seenAudio[r.AudioCodec] {
			seenAudio[r.AudioCodec] = true
			audio = append(audio, r.AudioCodec)
		}
		if r.VideoCodec != "" && !seenVideo[r.VideoCodec] {
			seenVideo[r.VideoCodec] = true
			video = append(video, r.VideoCodec)
		}
	}
	return audio, video
}

// requestKeySystemAccess builds the configurations synchronously, then
// spawns the asynchronous negotiation. An unsupported key system fails
// here, before any asynchronous call is made.
func (c *Controller) requestKeySystemAccess(keySystem KeySystem, audioCodecs, videoCodecs []string) error {
	configs, err := supportedConfigurations(keySystem, audioCodecs, videoCodecs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.negotiation != nil {
		c.mu.Unlock()
		c.logger.Debug("key system access already requested")
		return nil
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return errors.New("no media attached")
	}
	neg := newNegotiation()
	c.negotiation = neg
	ctx := c.ctx
	c.mu.Unlock()

	go c.negotiate(ctx, neg, keySystem, configs)
	return nil
}

// negotiate obtains platform access, appends the entry and materializes
// its key container and session. Failures reject the future; no fatal
// signal is emitted automatically.
func (c *Controller) negotiate(ctx context.Context, neg *negotiation, keySystem KeySystem, configs []mediakeys.SystemConfiguration) {
	access, err := c.cfg.RequestMediaKeySystemAccess(ctx, string(keySystem), configs)
	if err != nil {
		c.logger.Error("key system access denied",
			zap.String("keySystem", string(keySystem)),
			zap.Error(err))
		neg.reject(fmt.Errorf("request key system access: %w", err))
		return
	}
	if ctx.Err() != nil {
		neg.reject(ctx.Err())
		return
	}

	entry := &keySystemEntry{keySystem: keySystem, access: access}
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	keys, err := c.createMediaKeys(ctx, entry)
	if err != nil {
		c.logger.Error("media keys creation failed",
			zap.String("keySystem", string(keySystem)),
			zap.Error(err))
		neg.reject(err)
		return
	}
	if ctx.Err() != nil {
		neg.reject(ctx.Err())
		return
	}

	entry.mu.Lock()
	entry.mediaKeys = keys
	entry.mu.Unlock()

	if err := c.ensureSession(ctx, entry); err != nil {
		// The entry keeps its key container; request generation will
		// surface the missing session.
		c.logger.Error("key session creation failed", zap.Error(err))
	}
	neg.resolve(keys)
}

// createMediaKeys materializes the CDM key container, provisioning the
// server certificate first when the key system requires one. A certificate
// failure is fatal to report but does not abort key creation: current keys
// stay usable without the certificate having been applied.
func (c *Controller) createMediaKeys(ctx context.Context, entry *keySystemEntry) (mediakeys.MediaKeys, error) {
	keys, err := entry.access.CreateMediaKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("create media keys: %w", err)
	}

	if requiresServerCertificate(entry.keySystem) {
		cert, err := c.fetchServerCertificate(ctx)
		if err != nil {
			c.emitError(&KeySystemError{Detail: DetailCertificateRequestFailed, Fatal: true, Err: err})
		} else if err := keys.SetServerCertificate(ctx, cert); err != nil {
			c.emitError(&KeySystemError{
				Detail: DetailCertificateRequestFailed,
				Fatal:  true,
				Err:    fmt.Errorf("set server certificate: %w", err),
			})
		}
	}
	return keys, nil
}

// ensureSession creates the entry's key session if none exists yet and
// attaches the message observer exactly once.
func (c *Controller) ensureSession(ctx context.Context, entry *keySystemEntry) error {
	entry.mu.Lock()
	if entry.session != nil {
		entry.mu.Unlock()
		return nil
	}
	keys := entry.mediaKeys
	entry.mu.Unlock()

	session, err := keys.CreateSession()
	if err != nil {
		return fmt.Errorf("create key session: %w", err)
	}

	entry.mu.Lock()
	entry.session = session
	entry.state = stateSessionCreated
	entry.mu.Unlock()

	go c.watchSessionMessages(ctx, session)
	return nil
}

// watchSessionMessages dispatches every CDM-issued message into the
// license pipeline and feeds the resulting license back to the session.
func (c *Controller) watchSessionMessages(ctx context.Context, session mediakeys.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-session.Messages():
			if !ok {
				return
			}
			c.logger.Debug("key session message", zap.String("type", msg.Type))
			c.requestLicense(ctx, msg, func(license []byte) {
				if err := session.Update(ctx, license); err != nil {
					c.emitError(&KeySystemError{
						Detail: DetailNoKeys,
						Fatal:  false,
						Err:    fmt.Errorf("apply license: %w", err),
					})
				}
			})
		}
	}
}

// onMediaEncrypted waits on the outstanding access-and-keys future before
// applying keys to the media sink and generating the session request. A
// notification arriving before negotiation finished is buffered implicitly
// by the wait; one arriving after proceeds immediately.
func (c *Controller) onMediaEncrypted(initDataType string, initData []byte) {
	c.mu.Lock()
	neg := c.negotiation
	ctx := c.ctx
	c.mu.Unlock()

	if neg == nil || ctx == nil {
		c.emitError(&KeySystemError{
			Detail: DetailNoKeys,
			Fatal:  true,
			Err:    errors.New("media is encrypted but no key system access has been requested"),
		})
		return
	}

	go func() {
		keys, err := neg.wait(ctx)
		if err != nil {
			// Rejection was already logged by the negotiation; a
			// cancelled lifecycle is simply ignored.
			return
		}
		c.applyMediaKeys(keys)
		c.generateRequest(ctx, initDataType, initData)
	}()
}

// applyMediaKeys hands the key container to the media sink at most once
// per attach lifecycle.
func (c *Controller) applyMediaKeys(keys mediakeys.MediaKeys) {
	c.mu.Lock()
	media := c.media
	if c.keysApplied || media == nil {
		c.mu.Unlock()
		return
	}
	c.keysApplied = true
	c.mu.Unlock()

	if err := media.SetMediaKeys(keys); err != nil {
		c.emitError(&KeySystemError{
			Detail: DetailNoKeys,
			Fatal:  true,
			Err:    fmt.Errorf("set media keys: %w", err),
		})
		return
	}
	c.logger.Debug("media keys applied to sink")
}

// generateRequest drives the one-shot initialization-request generation on
// the active entry.
func (c *Controller) generateRequest(ctx context.Context, initDataType string, initData []byte) {
	entry := c.activeEntry()
	if entry == nil {
		c.emitError(&KeySystemError{
			Detail: DetailNoKeySystemAccess,
			Fatal:  true,
			Err:    errors.New("encrypted notification without key system access"),
		})
		return
	}

	entry.mu.Lock()
	if entry.state >= stateRequestGenerated {
		entry.mu.Unlock()
		c.logger.Debug("key session already initialized, ignoring encrypted notification")
		return
	}
	session := entry.session
	if session == nil {
		entry.mu.Unlock()
		c.emitError(&KeySystemError{
			Detail: DetailNoSession,
			Fatal:  true,
			Err:    errors.New("no key session for entry"),
		})
		return
	}
	if len(initData) == 0 {
		entry.mu.Unlock()
		// The platform legitimately supplies empty init data for
		// cross-origin content; nothing can be requested for it.
		c.emitError(&KeySystemError{
			Detail: DetailNoInitData,
			Fatal:  true,
			Err:    errors.New("encrypted notification carries no init data"),
		})
		return
	}

	if entry.keySystem == FairPlay && initDataType == InitDataTypeSinf {
		keyID, err := keyIDFromSinfInitData(initData)
		switch {
		case err != nil:
			c.logger.Warn("sinf key id extraction failed", zap.Error(err))
		case keyID != "":
			entry.keyID = keyID
			c.logger.Debug("extracted key id", zap.String("keyID", keyID))
		}
	} else if initDataType == InitDataTypeCenc {
		if pssh, err := ParsePSSH(initData); err == nil {
			c.logger.Debug("cenc init data",
				zap.String("systemID", pssh.SystemID()),
				zap.Strings("keyIDs", pssh.KeyIDs()))
		}
	}
	entry.state = stateRequestGenerated
	entry.mu.Unlock()

	c.logger.Info("generating key session request",
		zap.String("keySystem", string(entry.keySystem)),
		zap.String("initDataType", initDataType))
	if err := session.GenerateRequest(ctx, initDataType, initData); err != nil {
		entry.mu.Lock()
		entry.state = stateRequestFailed
		entry.mu.Unlock()
		// The session can still receive messages through other means.
		c.emitError(&KeySystemError{
			Detail: DetailNoSession,
			Fatal:  false,
			Err:    fmt.Errorf("generate request: %w", err),
		})
	}
}

// activeEntry returns the single entry negotiation ever consults. The list
// is retained only for a future multi-key-system extension.
func (c *Controller) activeEntry() *keySystemEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[0]
}

func (c *Controller) emitError(err *KeySystemError) {
	if err.Fatal {
		c.logger.Error("key system error",
			zap.String("detail", string(err.Detail)),
			zap.Error(err.Err))
	} else {
		c.logger.Warn("key system error",
			zap.String("detail", string(err.Detail)),
			zap.Error(err.Err))
	}
	if c.onError != nil {
		c.onError(err)
	}
}
