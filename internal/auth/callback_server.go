package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultCallbackPort is the default port for the local OAuth callback server.
const DefaultCallbackPort = 3000

// CallbackTimeout is how long to wait for the OAuth callback.
const CallbackTimeout = 10 * time.Minute

const callbackSuccessHTML = `<!DOCTYPE html>
<html>
<head><title>Login successful</title></head>
<body>
<h1>Login successful</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

const callbackErrorHTML = `<!DOCTYPE html>
<html>
<head><title>Login failed</title></head>
<body>
<h1>Login failed</h1>
<p>The authorization server reported an error. Return to the terminal for details.</p>
</body>
</html>`

// CallbackServer is a temporary loopback HTTP server for receiving the OAuth
// authorization callback. It starts, delivers a single callback query, then
// shuts down.
type CallbackServer struct {
	port      int
	server    *http.Server
	listener  net.Listener
	resultCh  chan url.Values
	errorCh   chan error
	once      sync.Once
	serverURL string
}

// NewCallbackServer creates a new callback server on the specified port.
// Port 0 uses the default port.
func NewCallbackServer(port int) *CallbackServer {
	if port == 0 {
		port = DefaultCallbackPort
	}
	return &CallbackServer{
		port:     port,
		resultCh: make(chan url.Values, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start starts the callback server. The server stops automatically when the
// context is cancelled. Returns the redirect URI to use in the authorization
// request.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.serverURL = fmt.Sprintf("http://localhost:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// WaitForCallback waits for the authorization callback and returns its query
// parameters, or an error if the server fails or the context ends first.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (url.Values, error) {
	select {
	case query := <-s.resultCh:
		return query, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback handles the callback request. Only the first request is
// processed; the redirect is single-use.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

// processCallback renders the result page and delivers the query parameters.
// Called exactly once via sync.Once.
func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	if query.Get("error") != "" {
		fmt.Fprint(w, callbackErrorHTML)
	} else {
		fmt.Fprint(w, callbackSuccessHTML)
	}

	select {
	case s.resultCh <- query:
	default:
	}

	// Shut down after giving the response time to flush.
	go func() {
		time.Sleep(1 * time.Second)
		s.Stop()
	}()
}

// Stop gracefully shuts down the callback server.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// RedirectURI returns the redirect URI served by this callback server.
func (s *CallbackServer) RedirectURI() string {
	return s.serverURL + "/callback"
}

// Port returns the port the server is listening on.
func (s *CallbackServer) Port() int {
	return s.port
}
