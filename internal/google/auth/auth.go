// Package auth provides Google API credentials: an installed-app OAuth login
// with PKCE and a loopback redirect, a persisted refreshable token, or a
// service account key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/script/v1"
	"google.golang.org/api/sheets/v4"

	"github.com/sammcj/mcp-workspace/internal/telemetry"
	"github.com/sammcj/mcp-workspace/internal/utils/httpclient"
)

// ErrNotAuthenticated is returned when neither a saved token nor a service
// account is available.
var ErrNotAuthenticated = errors.New("not authenticated: run `mcp-workspace auth login` or set GOOGLE_SERVICE_ACCOUNT_FILE")

// DefaultScopes covers script editing, project discovery and sheets.
var DefaultScopes = []string{
	script.ScriptProjectsScope,
	drive.DriveMetadataReadonlyScope,
	sheets.SpreadsheetsScope,
}

const loginTimeout = 5 * time.Minute

// Options configures a Provider.
type Options struct {
	ClientSecretFile   string
	TokenFile          string
	ServiceAccountFile string
	Scopes             []string
	Timeout            time.Duration
	// RateLimit is requests per minute shared by every Google client.
	RateLimit int
}

// Provider builds authenticated client options on first use and reuses
// them afterwards.
type Provider struct {
	opts   Options
	tokens *TokenStore
	logger *logrus.Logger

	mu         sync.Mutex
	clientOpts []option.ClientOption
}

// NewProvider creates a provider. No credentials are read until needed.
func NewProvider(opts Options, logger *logrus.Logger) *Provider {
	if len(opts.Scopes) == 0 {
		opts.Scopes = DefaultScopes
	}
	return &Provider{opts: opts, tokens: NewTokenStore(opts.TokenFile, logger), logger: logger}
}

func (p *Provider) baseContext() (context.Context, *http.Client) {
	base := httpclient.NewClient(httpclient.Options{Timeout: p.opts.Timeout, RateLimit: p.opts.RateLimit}, p.logger)
	return context.WithValue(context.Background(), oauth2.HTTPClient, base), base
}

// ClientOptions returns options for google.golang.org/api service
// constructors.
func (p *Provider) ClientOptions(ctx context.Context) ([]option.ClientOption, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clientOpts != nil {
		return p.clientOpts, nil
	}

	baseCtx, base := p.baseContext()
	var ts oauth2.TokenSource

	if p.opts.ServiceAccountFile != "" {
		data, err := os.ReadFile(p.opts.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(baseCtx, data, p.opts.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account file: %w", err)
		}
		ts = creds.TokenSource
		p.logger.Debug("Using service account credentials")
	} else {
		cfg, err := p.oauthConfig()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrNotAuthenticated
			}
			return nil, err
		}
		token, err := p.tokens.Load()
		if errors.Is(err, ErrNoToken) {
			return nil, ErrNotAuthenticated
		}
		if err != nil {
			return nil, err
		}
		ts = oauth2.ReuseTokenSource(token, newPersistingTokenSource(cfg.TokenSource(baseCtx, token), p.tokens, token))
		p.logger.Debug("Using saved OAuth token")
	}

	client := oauth2.NewClient(baseCtx, ts)
	client.Timeout = base.Timeout
	p.clientOpts = []option.ClientOption{option.WithHTTPClient(client)}
	return p.clientOpts, nil
}

func (p *Provider) oauthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(p.opts.ClientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secret file %s: %w", p.opts.ClientSecretFile, err)
	}
	cfg, err := google.ConfigFromJSON(data, p.opts.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secret file: %w", err)
	}
	return cfg, nil
}

// Login runs the browser consent flow and saves the resulting token. out
// receives the consent URL so headless users can open it by hand.
func (p *Provider) Login(ctx context.Context, browser BrowserLauncher, out io.Writer) error {
	cfg, err := p.oauthConfig()
	if err != nil {
		return err
	}

	state := uuid.NewString()
	server := newCallbackServer(state, p.logger)
	if err := server.Start(0); err != nil {
		return fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() { _ = server.Stop() }()

	cfg.RedirectURL = server.RedirectURI()
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)

	p.logger.WithField("url", telemetry.SanitiseURL(authURL)).Debug("Starting OAuth login")
	fmt.Fprintf(out, "Open this URL to authorise mcp-workspace:\n\n%s\n\n", authURL)
	if browser != nil {
		if err := browser.OpenURL(authURL); err != nil {
			p.logger.WithError(err).Warn("Failed to open browser")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	code, err := server.Wait(ctx)
	if err != nil {
		return err
	}

	baseCtx, _ := p.baseContext()
	token, err := cfg.Exchange(baseCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := p.tokens.Save(token); err != nil {
		return err
	}

	p.mu.Lock()
	p.clientOpts = nil
	p.mu.Unlock()

	fmt.Fprintf(out, "Token saved to %s\n", p.tokens.Path())
	return nil
}

// Status describes the credentials the provider would use.
type Status struct {
	Method          string    `json:"method"`
	ClientSecret    string    `json:"client_secret_file,omitempty"`
	TokenFile       string    `json:"token_file,omitempty"`
	ServiceAccount  string    `json:"service_account_file,omitempty"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	Expiry          time.Time `json:"expiry,omitzero"`
	Scopes          []string  `json:"scopes"`
}

// Status reports which credentials are configured without contacting Google.
func (p *Provider) Status() Status {
	st := Status{Method: "none", Scopes: p.opts.Scopes, ClientSecret: p.opts.ClientSecretFile, TokenFile: p.opts.TokenFile}
	if p.opts.ServiceAccountFile != "" {
		st.Method = "service_account"
		st.ServiceAccount = p.opts.ServiceAccountFile
		return st
	}
	token, err := p.tokens.Load()
	if err != nil {
		return st
	}
	st.Method = "oauth"
	st.HasRefreshToken = token.RefreshToken != ""
	st.Expiry = token.Expiry
	return st
}
