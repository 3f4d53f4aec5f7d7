// Package firebase is the HTTP client of the remote reload service: an
// anonymous identity sign-in plus two cloud functions, one keeping the
// session alive and one pushing a reload to the extension.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
)

// Default endpoints of the hosted reload service.
const (
	DefaultIdentityURL  = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL     = "https://securetoken.googleapis.com/v1/token"
	DefaultFunctionsURL = "https://us-central1-rpce-reloader.cloudfunctions.net"
)

// Cloud function names.
const (
	UpdateFunction = "updateUserTime"
	ReloadFunction = "reloadClient"
)

var (
	ErrNoAPIKey     = errors.New("firebase: no API key configured")
	ErrNotSignedIn  = errors.New("firebase: not signed in")
	errEmptyLocalID = errors.New("firebase: sign-up response has no localId")
)

// Config configures the client. Zero values fall back to the defaults.
type Config struct {
	APIKey       string
	IdentityURL  string
	TokenURL     string
	FunctionsURL string

	// Retries bounds the retries of a failed call. Zero means one attempt.
	Retries uint64
	// RetryWait is the initial wait of the exponential retry policy.
	RetryWait time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultConfig returns the configuration of the hosted service.
// The API key is left empty and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		IdentityURL:  DefaultIdentityURL,
		TokenURL:     DefaultTokenURL,
		FunctionsURL: DefaultFunctionsURL,
		RetryWait:    500 * time.Millisecond,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firebase: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client implements the push reloader's remote functions.
type Client struct {
	cfg Config

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// New creates a client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = def.IdentityURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = def.TokenURL
	}
	if cfg.FunctionsURL == "" {
		cfg.FunctionsURL = def.FunctionsURL
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.FunctionsURL = strings.TrimRight(cfg.FunctionsURL, "/")
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	return &Client{cfg: cfg}
}

type signUpRequest struct {
	ReturnSecureToken bool `json:"returnSecureToken"`
}

type signUpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// Login signs in anonymously and returns the user id.
func (c *Client) Login(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNoAPIKey
	}

	endpoint := c.cfg.IdentityURL + "/accounts:signUp?key=" + url.QueryEscape(c.cfg.APIKey)
	var resp signUpResponse
	err := c.retry(ctx, "signUp", func() error {
		return c.postJSON(ctx, c.cfg.HTTPClient, endpoint, signUpRequest{ReturnSecureToken: true}, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.LocalID == "" {
		return "", errEmptyLocalID
	}

	tok := &oauth2.Token{
		AccessToken:  resp.IDToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry(resp.ExpiresIn),
	}

	c.mu.Lock()
	c.tokens = oauth2.ReuseTokenSource(tok, &refresher{client: c, refreshToken: resp.RefreshToken})
	c.mu.Unlock()

	return resp.LocalID, nil
}

// Update tells the service the session is still alive.
func (c *Client) Update(ctx context.Context, uid string) error {
	return c.callFunction(ctx, UpdateFunction, uid)
}

// Reload asks the service to push a reload to the extension of uid.
func (c *Client) Reload(ctx context.Context, uid string) error {
	return c.callFunction(ctx, ReloadFunction, uid)
}

type functionRequest struct {
	Data struct {
		UID string `json:"uid"`
	} `json:"data"`
}

func (c *Client) callFunction(ctx context.Context, name, uid string) error {
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()
	if ts == nil {
		return ErrNotSignedIn
	}

	httpClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient), ts)

	var body functionRequest
	body.Data.UID = uid
	endpoint := c.cfg.FunctionsURL + "/" + name

	return c.retry(ctx, name, func() error {
		return c.postJSON(ctx, httpClient, endpoint, body, nil)
	})
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryWait
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.Retries), ctx)

	return backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		c.cfg.Logger.Warn("reload service call failed, retrying", "op", op, "wait", wait, "error", err)
	})
}

// postJSON sends body as JSON and decodes the response into out when out is
// not nil. Client errors are permanent; server and transport errors are not.
func (c *Client) postJSON(ctx context.Context, httpClient *http.Client, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firebase: %w", redactError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("firebase: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{URL: redact(endpoint), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(serr)
		}
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("firebase: decode response: %w", err))
	}
	return nil
}

// refresher exchanges the refresh token for a new id token.
type refresher struct {
	client       *Client
	refreshToken string
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

func (r *refresher) Token() (*oauth2.Token, error) {
	c := r.client
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {r.refreshToken},
	}
	endpoint := c.cfg.TokenURL + "?key=" + url.QueryEscape(c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.PostForm(endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("firebase: refresh token: %w", redactError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("firebase: refresh token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: redact(endpoint), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out refreshResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("firebase: decode refresh response: %w", err)
	}
	if out.RefreshToken != "" {
		r.refreshToken = out.RefreshToken
	}
	return &oauth2.Token{
		AccessToken:  out.IDToken,
		RefreshToken: r.refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry(out.ExpiresIn),
	}, nil
}

// expiry converts an expires-in value to a deadline. A missing value yields
// the zero time, which oauth2 treats as a token that never expires.
func expiry(seconds string) time.Time {
	n, err := strconv.Atoi(seconds)
	if err != nil {
		return time.Time{}
	}
	if n <= 0 {
		return time.Now()
	}
	return time.Now().Add(time.Duration(n) * time.Second)
}

// redact drops the query string, which carries the API key.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// redactError rewrites the URL of a transport error so the API key does not
// reach logs or build output.
func redactError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: redact(uerr.URL), Err: uerr.Err}
}
