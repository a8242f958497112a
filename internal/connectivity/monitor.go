package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is a change notification pushed by the server over the liveness socket.
type Message struct {
	Type     string `json:"type"`
	ServerID int64  `json:"server_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Monitor keeps a websocket open to the server. The device is online while
// the socket is up and answering pings, offline otherwise.
type Monitor struct {
	url        string
	dialer     *websocket.Dialer
	pingPeriod time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	onMessage  func(Message)
	log        *zap.SugaredLogger

	out      *latest
	mu       sync.Mutex
	online   bool
	reported bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPingPeriod sets how often the monitor pings; a missing pong within two
// periods marks the device offline.
func WithPingPeriod(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.pingPeriod = d }
}

// WithBackoff bounds the delay between reconnect attempts.
func WithBackoff(min, max time.Duration) MonitorOption {
	return func(m *Monitor) { m.minBackoff, m.maxBackoff = min, max }
}

// WithMessageHandler receives change notifications from the server.
func WithMessageHandler(fn func(Message)) MonitorOption {
	return func(m *Monitor) { m.onMessage = fn }
}

// WithMonitorLogger sets the logger. The default discards everything.
func WithMonitorLogger(l *zap.SugaredLogger) MonitorOption {
	return func(m *Monitor) { m.log = l }
}

// WithDeviceID identifies this device to the server's hub.
func WithDeviceID(id string) MonitorOption {
	return func(m *Monitor) {
		u, err := url.Parse(m.url)
		if err != nil {
			return
		}
		q := u.Query()
		q.Set("device", id)
		u.RawQuery = q.Encode()
		m.url = u.String()
	}
}

// NewMonitor builds a monitor for the server at serverURL (http, https, ws or wss).
func NewMonitor(serverURL string, opts ...MonitorOption) (*Monitor, error) {
	wsURL, err := socketURL(serverURL)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		url:        wsURL,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingPeriod: 15 * time.Second,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
		log:        zap.NewNop().Sugar(),
		out:        newLatest(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", serverURL)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Events implements Source.
func (m *Monitor) Events() <-chan Event {
	return m.out.ch
}

// Online returns the last reported state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reported && m.online == online {
		return
	}
	m.online = online
	m.reported = true
	m.out.publish(Event{Online: online, At: time.Now()})
}

// Run dials and redials until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	backoff := m.minBackoff
	for {
		conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.set(false)
			m.log.Debugw("server unreachable", "url", m.url, "retry_in", backoff, "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.maxBackoff {
				backoff = m.maxBackoff
			}
			continue
		}

		backoff = m.minBackoff
		m.log.Infow("connected to server", "url", m.url)
		m.set(true)

		err = m.serve(ctx, conn)
		m.set(false)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Infow("lost server connection", "error", err)
	}
}

// serve reads from conn until it fails or ctx ends.
func (m *Monitor) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	pongWait := 2 * m.pingPeriod
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(m.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage below.
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.log.Debugw("ignoring malformed server message", "error", err)
			continue
		}
		m.log.Debugw("server notification", "type", msg.Type, "server_id", msg.ServerID)
		if m.onMessage != nil {
			m.onMessage(msg)
		}
	}
}
