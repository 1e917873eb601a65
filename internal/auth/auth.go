package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const defaultRedirectURL = "http://127.0.0.1:8080"

// authorizationTimeout bounds how long the loopback flow waits for the browser callback.
var authorizationTimeout = 5 * time.Minute

// TokenStore is an interface for saving and loading OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// NewOAuthConfig builds the Google OAuth config for calendar access.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  defaultRedirectURL, // replaced once the loopback listener is bound
		Scopes: []string{
			calendar.CalendarScope,
			calendar.CalendarEventsScope,
		},
		Endpoint: google.Endpoint,
	}
}

// autoSaveTokenSource wraps an oauth2.TokenSource and persists refreshed tokens.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// loopbackServer receives the OAuth redirect on 127.0.0.1.
type loopbackServer struct {
	redirectURL string
	codes       chan string
	errs        chan error
	server      *http.Server
}

// startLocalServer binds port 8080, or a random port if 8080 is taken.
func startLocalServer() (*loopbackServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	ls := &loopbackServer{
		redirectURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		codes:       make(chan string, 1),
		errs:        make(chan error, 2),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ls.handleCallback)
	ls.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	go func() {
		if err := ls.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ls.report(fmt.Errorf("server error: %w", err))
		}
	}()

	return ls, nil
}

func (ls *loopbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code != "" {
		fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
		select {
		case ls.codes <- code:
		default:
		}
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", errMsg)
		ls.report(fmt.Errorf("authorization error: %s", errMsg))
		return
	}

	fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
	ls.report(errors.New("no authorization code received"))
}

func (ls *loopbackServer) report(err error) {
	select {
	case ls.errs <- err:
	default:
	}
}

// wait blocks until a code arrives, the callback reports an error, or the timeout elapses.
func (ls *loopbackServer) wait(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case code := <-ls.codes:
		return code, nil
	case err := <-ls.errs:
		return "", fmt.Errorf("failed to receive authorization code: %w", err)
	case <-time.After(timeout):
		return "", fmt.Errorf("authorization timeout: no response received within %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (ls *loopbackServer) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ls.server.Shutdown(ctx)
}

// Authorize runs the interactive loopback flow and stores the resulting token.
// Instructions for the user are written to out.
func Authorize(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, out io.Writer, logger *zap.Logger) (*oauth2.Token, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ls, err := startLocalServer()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ls.close(); err != nil {
			logger.Debug("loopback server shutdown", zap.Error(err))
		}
	}()

	oauthConfig.RedirectURL = ls.redirectURL
	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	logger.Info("waiting for OAuth authorization", zap.String("redirect_url", ls.redirectURL))
	if ls.redirectURL != defaultRedirectURL {
		fmt.Fprintf(out, "Note: Port 8080 was unavailable. Make sure to add %s to your authorized redirect URIs in Google Cloud Console.\n", ls.redirectURL)
	}
	fmt.Fprintln(out, "\nPlease visit the following URL to authorize the application:")
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out, "\nWaiting for authorization...")

	code, err := ls.wait(ctx, authorizationTimeout)
	if err != nil {
		return nil, err
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := tokenStore.SaveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintln(out, "Authorization successful!")
	return token, nil
}

// GetAuthenticatedClient returns an HTTP client that authorizes calendar requests.
// Without a stored token it falls back to the interactive flow when interactive is set,
// and fails otherwise so unattended runs never block on a browser prompt.
func GetAuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, interactive bool, out io.Writer, logger *zap.Logger) (*http.Client, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token == nil {
		if !interactive {
			return nil, errors.New("no OAuth token stored; run 'shiftsync auth' first")
		}
		token, err = Authorize(ctx, oauthConfig, tokenStore, out, logger)
		if err != nil {
			return nil, err
		}
	}

	autoSaveSource := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		tokenStore: tokenStore,
		lastToken:  token,
	}

	return oauth2.NewClient(ctx, autoSaveSource), nil
}
