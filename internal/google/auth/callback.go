package auth

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// callbackServer receives the authorization code on a loopback redirect.
type callbackServer struct {
	server      *http.Server
	listener    net.Listener
	redirectURI string
	state       string
	codeCh      chan string
	errorCh     chan error
	logger      *logrus.Logger
	mu          sync.Mutex
	started     bool
}

func newCallbackServer(state string, logger *logrus.Logger) *callbackServer {
	return &callbackServer{
		state:   state,
		codeCh:  make(chan string, 1),
		errorCh: make(chan error, 1),
		logger:  logger,
	}
}

// Start listens on 127.0.0.1:port (0 for random).
func (s *callbackServer) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("callback server is already started")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.redirectURI = fmt.Sprintf("http://127.0.0.1:%d/callback", listener.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.started = true

	go func() {
		s.logger.Debugf("OAuth callback server starting on %s", s.redirectURI)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Callback server error")
			s.sendError(err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *callbackServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("Error shutting down callback server")
		return err
	}
	s.logger.Debug("OAuth callback server stopped")
	return nil
}

// RedirectURI is valid after Start.
func (s *callbackServer) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirectURI
}

// Wait blocks until a code, an error or ctx expiry.
func (s *callbackServer) Wait(ctx context.Context) (string, error) {
	select {
	case code := <-s.codeCh:
		return code, nil
	case err := <-s.errorCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("authentication cancelled: %w", ctx.Err())
	}
}

func (s *callbackServer) sendError(err error) {
	select {
	case s.errorCh <- err:
	default:
	}
}

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writePage(w, http.StatusMethodNotAllowed, "Method not allowed", "Only GET requests are allowed.")
		return
	}
	query := r.URL.Query()

	if errorParam := query.Get("error"); errorParam != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = "OAuth authorization failed"
		}
		s.logger.Warnf("OAuth error received: %s - %s", errorParam, desc)
		writePage(w, http.StatusBadRequest, "Authorization Failed", desc)
		s.sendError(fmt.Errorf("oauth error: %s - %s", errorParam, desc))
		return
	}

	if query.Get("state") != s.state {
		s.logger.Warn("OAuth callback state mismatch")
		writePage(w, http.StatusBadRequest, "Invalid Request", "The state parameter did not match.")
		s.sendError(fmt.Errorf("oauth callback state mismatch"))
		return
	}

	code := query.Get("code")
	if code == "" {
		writePage(w, http.StatusBadRequest, "Invalid Request", "No authorization code received.")
		s.sendError(fmt.Errorf("no authorization code received"))
		return
	}

	writePage(w, http.StatusOK, "Authentication Successful", "mcp-workspace is now authorised. You can close this window.")
	select {
	case s.codeCh <- code:
	default:
		s.logger.Warn("Authorization code channel is full")
	}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta charset="utf-8">
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
        .container { max-width: 600px; margin: 0 auto; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>`))

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, struct{ Title, Message string }{title, message})
}
