// Package client implements the consumer side of the relay stream: a
// conversation session that submits user input, follows the SSE reply
// and commits the assistant's message once the stream completes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/storage"
	"chatrelay/internal/validate"
)

const noticeTTL = 5 * time.Second

var (
	// ErrRequestInFlight is returned when Submit is called while a
	// previous exchange is still streaming.
	ErrRequestInFlight = errors.New("a request is already in flight")

	// ErrSessionClosed is returned for any mutation after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client used for submissions.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Session) { s.http = hc }
}

// WithCache enables best-effort conversation persistence.
func WithCache(cache *storage.ConversationCache) Option {
	return func(s *Session) { s.cache = cache }
}

// OnFragment registers a callback invoked for every streamed fragment,
// in arrival order. The callback must not call back into the session.
func OnFragment(fn func(string)) Option {
	return func(s *Session) { s.onFragment = fn }
}

// OnStateChange registers a callback invoked on every state transition.
// The callback must not call back into the session.
func OnStateChange(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// Session holds one conversation against a relay endpoint. All methods
// are safe for concurrent use; at most one exchange is in flight.
type Session struct {
	endpoint   string
	http       *http.Client
	cache      *storage.ConversationCache
	onFragment func(string)
	onState    func(State)

	mu        sync.Mutex
	state     State
	conv      models.Conversation
	cancel    context.CancelFunc
	closed    bool
	notice    string
	noticeAt  time.Time
	noticeTTL time.Duration
}

// New creates a session against the relay endpoint. When a cache is
// configured, a previously persisted conversation is restored; cache
// failures never prevent the session from starting.
func New(endpoint string, opts ...Option) *Session {
	s := &Session{
		endpoint:  endpoint,
		http:      &http.Client{},
		state:     StateIdle,
		noticeTTL: noticeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache != nil {
		if conv, err := s.cache.Load(context.Background()); err == nil && conv != nil {
			s.conv = conv
		}
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(models.Conversation(nil), s.conv...)
}

// Notice returns the current user-facing notice, or "" once it has
// expired.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice != "" && time.Since(s.noticeAt) >= s.noticeTTL {
		s.notice = ""
	}
	return s.notice
}

// Close tears the session down. Any in-flight exchange is cancelled and
// its outcome discarded; all further mutations fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Submit validates the input, appends it to the conversation and runs
// one full exchange against the relay. It blocks until the stream
// terminates. The user message stays in the conversation even when the
// exchange fails; resending is the user's choice.
func (s *Session) Submit(ctx context.Context, text string) error {
	sanitized, verr := validate.Input(text)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	if verr != nil {
		s.setNoticeLocked(verr.Error())
		s.mu.Unlock()
		return verr
	}

	s.conv = append(s.conv, models.NewMessage(models.RoleUser, sanitized))
	s.setStateLocked(StateSending)
	snapshot := append(models.Conversation(nil), s.conv...)
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()
	s.persist(snapshot)

	reply, err := s.exchange(ctx, snapshot)

	s.mu.Lock()
	s.cancel = nil
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		s.setStateLocked(StateErrored)
		s.setNoticeLocked(err.Error())
		s.mu.Unlock()
		return err
	}
	s.conv = append(s.conv, models.NewMessage(models.RoleAssistant, reply))
	s.setStateLocked(StateReady)
	snapshot = append(models.Conversation(nil), s.conv...)
	s.mu.Unlock()

	s.persist(snapshot)
	return nil
}

type chatRequest struct {
	Messages models.Conversation `json:"messages"`
}

// exchange posts the conversation and consumes the SSE reply, returning
// the accumulated assistant text.
func (s *Session) exchange(ctx context.Context, conv models.Conversation) (string, error) {
	body, err := json.Marshal(chatRequest{Messages: conv})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeRejection(resp)
	}

	reader := newSSEReader(resp.Body)
	var full strings.Builder
	first := true
	for {
		event, data, err := reader.ReadEvent()
		if err != nil {
			// A connection that drops without a terminal frame is a
			// failed exchange, not a short answer.
			if err == io.EOF {
				return "", errors.New("stream closed before completion")
			}
			return "", fmt.Errorf("read stream: %w", err)
		}

		switch event {
		case "stream":
			var payload struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return "", fmt.Errorf("decode stream frame: %w", err)
			}
			if first {
				s.markStreaming()
				first = false
			}
			full.WriteString(payload.Content)
			if s.onFragment != nil {
				s.onFragment(payload.Content)
			}
		case "done":
			return full.String(), nil
		case "error":
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(data, &payload)
			if payload.Message == "" {
				payload.Message = "stream failed"
			}
			return "", fmt.Errorf("relay error: %s", payload.Message)
		}
	}
}

// decodeRejection turns a non-200 relay response into an error carrying
// the relay's error code when one is present.
func decodeRejection(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("relay rejected request (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("relay rejected request: status %d", resp.StatusCode)
}

func (s *Session) markStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateSending {
		return
	}
	s.setStateLocked(StateStreaming)
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.onState != nil {
		s.onState(next)
	}
}

func (s *Session) setNoticeLocked(text string) {
	s.notice = text
	s.noticeAt = time.Now()
}

// persist writes the conversation to the cache when one is configured.
// Failures are swallowed; the cache is never a source of truth.
func (s *Session) persist(conv models.Conversation) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.cache.Save(ctx, conv)
}
