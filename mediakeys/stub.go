package mediakeys

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Stub is an in-memory CDM. It grants access unconditionally, creates
// sessions with random identifiers and answers every generate-request with
// a single message echoing the init data as the challenge. It backs the
// package tests and the getting-started example.
type Stub struct {
	system string

	mu       sync.Mutex
	cert     []byte
	sessions []*StubSession

	// AccessErr, KeysErr and SessionErr make the corresponding step fail.
	AccessErr  error
	KeysErr    error
	SessionErr error
}

func NewStub(keySystem string) *Stub {
	return &Stub{system: keySystem}
}

func (s *Stub) KeySystem() string { return s.system }

// Request implements RequestAccessFunc against the stub itself.
func (s *Stub) Request(_ context.Context, keySystem string, configs []SystemConfiguration) (SystemAccess, error) {
	if s.AccessErr != nil {
		return nil, s.AccessErr
	}
	if len(configs) == 0 {
		return nil, errors.New("no configuration supplied")
	}
	s.system = keySystem
	return s, nil
}

func (s *Stub) CreateMediaKeys(_ context.Context) (MediaKeys, error) {
	if s.KeysErr != nil {
		return nil, s.KeysErr
	}
	return s, nil
}

func (s *Stub) SetServerCertificate(_ context.Context, cert []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cert = append([]byte(nil), cert...)
	return nil
}

// Certificate returns the last certificate applied via SetServerCertificate.
func (s *Stub) Certificate() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cert
}

func (s *Stub) CreateSession() (Session, error) {
	if s.SessionErr != nil {
		return nil, s.SessionErr
	}
	sess := &StubSession{
		id:       uuid.NewString(),
		messages: make(chan Message, 4),
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

// Sessions returns every session created so far.
func (s *Stub) Sessions() []*StubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StubSession(nil), s.sessions...)
}

// StubSession records what the controller asked of it and emits one
// license-request message per successful GenerateRequest.
type StubSession struct {
	id string

	// GenerateErr makes GenerateRequest fail without emitting a message.
	GenerateErr error

	mu           sync.Mutex
	generated    int
	initDataType string
	initData     []byte
	updates      [][]byte
	closed       bool
	messages     chan Message
}

func (s *StubSession) ID() string { return s.id }

func (s *StubSession) GenerateRequest(_ context.Context, initDataType string, initData []byte) error {
	if s.GenerateErr != nil {
		return s.GenerateErr
	}
	s.mu.Lock()
	s.generated++
	s.initDataType = initDataType
	s.initData = append([]byte(nil), initData...)
	s.mu.Unlock()
	s.messages <- Message{Type: "license-request", Data: initData}
	return nil
}

func (s *StubSession) Messages() <-chan Message { return s.messages }

func (s *StubSession) Update(_ context.Context, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, append([]byte(nil), response...))
	return nil
}

func (s *StubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
	return nil
}

// GenerateCalls reports how many times GenerateRequest succeeded.
func (s *StubSession) GenerateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generated
}

// InitData returns the init data of the last generate request.
func (s *StubSession) InitData() (string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initDataType, s.initData
}

// Updates returns every license applied via Update.
func (s *StubSession) Updates() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.updates...)
}
