// Package control is the local socket a running notes daemon listens on, so
// that other notes commands on the same device hand work to it instead of
// syncing the store themselves.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"notesync/internal/connectivity"
	"notesync/internal/syncer"
)

var (
	// ErrNoDaemon means nothing is listening on the socket.
	ErrNoDaemon = errors.New("no notes daemon running")
	// ErrDaemonRunning means another daemon already owns the socket.
	ErrDaemonRunning = errors.New("a notes daemon is already running for this database")
	// ErrNotManual means the daemon follows the server connection and cannot
	// be switched on or offline by hand.
	ErrNotManual = errors.New("daemon is not in manual connectivity mode")
)

// SocketPath is where the daemon for the database at dbPath listens.
func SocketPath(dbPath string) string {
	return dbPath + ".sock"
}

// Trigger starts a sync pass soon.
type Trigger interface {
	SyncNow()
}

// Status is what GET /status returns.
type Status struct {
	Online      bool           `json:"online"`
	Running     bool           `json:"running"`
	Manual      bool           `json:"manual"`
	LastOutcome syncer.Outcome `json:"last_outcome,omitempty"`
	LastRun     time.Time      `json:"last_run,omitempty"`
	Remaining   int            `json:"remaining"`
}

// Server serves the control socket.
type Server struct {
	path    string
	ln      net.Listener
	trigger Trigger
	engine  *syncer.Engine
	manual  *connectivity.Switch
	log     *zap.SugaredLogger
}

// Listen claims the socket at path. A socket file left behind by a daemon
// that died is replaced; a live one is ErrDaemonRunning.
// manual may be nil when connectivity comes from the server connection.
func Listen(path string, trigger Trigger, engine *syncer.Engine, manual *connectivity.Switch, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
			conn.Close()
			return nil, ErrDaemonRunning
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return &Server{path: path, ln: ln, trigger: trigger, engine: engine, manual: manual, log: log}, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sync", s.sync).Methods(http.MethodPost)
	r.HandleFunc("/online", s.setOnline(true)).Methods(http.MethodPost)
	r.HandleFunc("/offline", s.setOnline(false)).Methods(http.MethodPost)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	return r
}

// Serve answers requests until ctx is cancelled, then removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(s.ln)
	_ = os.Remove(s.path)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	s.log.Info("Sync requested over control socket")
	s.trigger.SyncNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) setOnline(online bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.manual == nil {
			http.Error(w, ErrNotManual.Error(), http.StatusConflict)
			return
		}
		s.log.Infow("Connectivity set by hand", "online", online)
		s.manual.Set(online)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	resp := Status{
		Online:      st.Online,
		Running:     st.Running,
		Manual:      s.manual != nil,
		LastOutcome: st.Last.Outcome,
		LastRun:     st.Last.Finished,
		Remaining:   st.Last.Remaining,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Client talks to a daemon's control socket.
type Client struct {
	http *http.Client
}

// NewClient returns a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{http: &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}}
}

func (c *Client) do(ctx context.Context, method, path string, want int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://notes"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, ErrNoDaemon
		}
		return nil, fmt.Errorf("control request failed: %w", err)
	}
	if resp.StatusCode != want {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusConflict {
			return nil, ErrNotManual
		}
		return nil, fmt.Errorf("control request %s: status %d: %s", path, resp.StatusCode, body)
	}
	return resp, nil
}

// RequestSync asks the daemon to sync now. It does not wait for the pass.
func (c *Client) RequestSync(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/sync", http.StatusAccepted)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// SetOnline switches a manual-mode daemon on or offline.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	path := "/offline"
	if online {
		path = "/online"
	}
	resp, err := c.do(ctx, http.MethodPost, path, http.StatusNoContent)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Status fetches the daemon's view of the sync engine.
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", http.StatusOK)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("failed to decode daemon status: %w", err)
	}
	return st, nil
}
