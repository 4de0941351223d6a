// Package realtime owns the persistent push connection to the generation
// backend and fans named events out to subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"svgstudio/internal/domain"
	"svgstudio/internal/infra"
)

// DefaultConnectTimeout bounds AwaitConnected when the caller passes zero.
const DefaultConnectTimeout = 8 * time.Second

// readerStopTimeout bounds how long Disconnect waits for the reader goroutine.
const readerStopTimeout = 2 * time.Second

var errDisconnected = errors.New("realtime: disconnected")

// State is the lifecycle of the managed connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Handler receives the data payload of one named event. Handlers run on the
// reader goroutine and must not block.
type Handler func(data json.RawMessage)

// Options configures a Manager.
type Options struct {
	URL              string
	Token            string
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	Logger           *infra.Logger
}

// Manager holds at most one live connection and multiplexes subscriptions
// over it. The zero value is not usable; construct with NewManager.
type Manager struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *infra.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	reader  chan struct{} // closed when conn's reader goroutine exits
	attempt *dialAttempt
	subs    map[string]map[uint64]Handler
	nextSub uint64
}

type dialAttempt struct {
	done chan struct{}
	err  error
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewManager constructs a Manager. No network I/O happens until Connect.
func NewManager(opts Options) (*Manager, error) {
	target := strings.TrimSpace(opts.URL)
	if target == "" {
		return nil, errors.New("realtime: url is required")
	}
	dialer := opts.Dialer
	if dialer == nil {
		timeout := opts.HandshakeTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Manager{
		url:    target,
		token:  strings.TrimSpace(opts.Token),
		dialer: dialer,
		logger: logger,
		subs:   make(map[string]map[uint64]Handler),
	}, nil
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts dialing unless a connection is already open or in progress.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected {
		return
	}
	a := &dialAttempt{done: make(chan struct{})}
	m.attempt = a
	m.state = StateConnecting
	go m.dial(a)
}

// AwaitConnected connects if needed and blocks until the connection is open.
// It returns domain.ErrConnectionTimeout when timeout elapses first.
func (m *Manager) AwaitConnected(ctx context.Context, timeout time.Duration) error {
	m.Connect()

	m.mu.Lock()
	state, a := m.state, m.attempt
	m.mu.Unlock()
	if state == StateOpen {
		return nil
	}
	if a == nil {
		return errDisconnected
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return a.err
	case <-timer.C:
		return fmt.Errorf("realtime: not open after %s: %w", timeout, domain.ErrConnectionTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection, abandons any dial in flight and waits
// for the reader goroutine to exit, so no handler runs after it returns.
// Subscriptions survive and resume delivery after the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, reader := m.conn, m.reader
	m.conn = nil
	m.reader = nil
	m.attempt = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	timer := time.NewTimer(readerStopTimeout)
	defer timer.Stop()
	select {
	case <-reader:
	case <-timer.C:
		m.logger.Warn().Str("url", m.url).Msg("realtime: reader did not stop")
	}
	m.logger.Debug().Str("url", m.url).Msg("realtime: disconnected")
}

// Subscribe registers handler for event. The returned func removes it and is
// safe to call more than once.
func (m *Manager) Subscribe(event string, handler Handler) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	if m.subs[event] == nil {
		m.subs[event] = make(map[uint64]Handler)
	}
	m.subs[event][id] = handler
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[event], id)
			if len(m.subs[event]) == 0 {
				delete(m.subs, event)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Manager) dial(a *dialAttempt) {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	conn, resp, err := m.dialer.Dial(m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if m.attempt != a {
		// Disconnect ran while dialing.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		a.err = errDisconnected
		close(a.done)
		return
	}
	if err != nil {
		m.state = StateDisconnected
		m.attempt = nil
		m.mu.Unlock()
		m.logger.Warn().Err(err).Str("url", m.url).Msg("realtime: dial failed")
		a.err = fmt.Errorf("realtime: dial: %w", err)
		close(a.done)
		return
	}
	reader := make(chan struct{})
	m.conn = conn
	m.reader = reader
	m.state = StateOpen
	m.mu.Unlock()

	m.logger.Debug().Str("url", m.url).Msg("realtime: connected")
	close(a.done)
	go m.readLoop(conn, reader)
}

func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer m.dropConn(conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !m.closedLocally(conn) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn().Err(err).Msg("realtime: read failed")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			m.logger.Warn().Int("bytes", len(raw)).Msg("realtime: dropping malformed frame")
			continue
		}
		m.dispatch(f)
	}
}

func (m *Manager) dispatch(f frame) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[f.Event]))
	for _, h := range m.subs[f.Event] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(f.Data)
	}
}

// closedLocally reports whether Disconnect already detached conn.
func (m *Manager) closedLocally(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != conn
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.reader = nil
		m.attempt = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	_ = conn.Close()
}
