// Package client is the caller-side companion of the auth API. It holds the
// current access token, renews it ahead of expiry, and coalesces concurrent
// renewal attempts into a single refresh call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tokengate/api/internal/security"
)

// ErrUnauthenticated is returned once every credential the client held is
// known to be dead. The only recovery is a fresh Login.
var ErrUnauthenticated = errors.New("client: unauthenticated")

const (
	defaultRenewLead     = time.Minute
	defaultMinRenewDelay = 5 * time.Second
	defaultMinRemaining  = 10 * time.Second
)

type Config struct {
	BaseURL  string
	TenantID string

	// RenewLead is how long before access-token expiry the proactive
	// renewal fires. MinRenewDelay floors the timer so a token received
	// close to its expiry still gets a beat before renewal. Tokens with
	// less than MinRemaining left are not scheduled at all; they refresh
	// reactively on the first 401 instead.
	RenewLead     time.Duration
	MinRenewDelay time.Duration
	MinRemaining  time.Duration

	HTTPClient *http.Client
}

// Client is safe for concurrent use. One instance should be constructed per
// process and shared; it owns its renewal timer and the single in-flight
// refresh handle.
type Client struct {
	http     *http.Client
	baseURL  string
	tenantID string
	log      zerolog.Logger

	renewLead     time.Duration
	minRenewDelay time.Duration
	minRemaining  time.Duration

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	timer       *time.Timer
}

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base url required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		// The refresh token only ever travels in an HTTP-only cookie;
		// the jar is what carries it between refresh calls.
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	c := &Client{
		http:          httpClient,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		tenantID:      cfg.TenantID,
		log:           log,
		renewLead:     cfg.RenewLead,
		minRenewDelay: cfg.MinRenewDelay,
		minRemaining:  cfg.MinRemaining,
	}
	if c.renewLead <= 0 {
		c.renewLead = defaultRenewLead
	}
	if c.minRenewDelay <= 0 {
		c.minRenewDelay = defaultMinRenewDelay
	}
	if c.minRemaining <= 0 {
		c.minRemaining = defaultMinRemaining
	}
	return c, nil
}

// AccessToken returns the currently held access token, or "" when logged
// out.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

type LoginInput struct {
	Email          string `json:"email,omitempty"`
	Password       string `json:"password,omitempty"`
	TwoFactorToken string `json:"twoFactorToken,omitempty"`
	TempLoginID    string `json:"tempLoginId,omitempty"`
	RememberMe     bool   `json:"rememberMe,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	DeviceName     string `json:"deviceName,omitempty"`
}

type User struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

type LoginResult struct {
	Requires2FA bool   `json:"requires2FA"`
	TempLoginID string `json:"tempLoginId"`
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// Login authenticates and, on success, stores the access token and arms the
// renewal schedule. When the server demands a second factor the result
// carries Requires2FA and a temp login id to repeat the call with.
func (c *Client) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return LoginResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-Id", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return LoginResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return LoginResult{}, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return LoginResult{}, fmt.Errorf("client: login status %d", resp.StatusCode)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LoginResult{}, err
	}

	if result.Requires2FA {
		return result, nil
	}
	c.setToken(result.AccessToken)
	return result, nil
}

// Do sends an authenticated request. On a 401 it triggers (or joins) one
// refresh and replays the request exactly once with the new token; a second
// 401 comes straight back to the caller, so a permanently dead session can
// never loop.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	token := c.AccessToken()
	if token == "" {
		return nil, ErrUnauthenticated
	}

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	newToken, err := c.Refresh(req.Context())
	if err != nil {
		return nil, err
	}

	replay, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return c.send(replay, newToken)
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(req)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	replay := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("client: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	replay.Body = body
	return replay, nil
}

// Refresh rotates the refresh token and installs the new access token.
// Concurrent callers (the renewal timer and any number of 401'd requests)
// share one network call and all observe its result.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	token, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// The session is gone (rotated elsewhere, revoked, or expired).
		// Drop everything; the caller must log in again.
		c.clear()
		return "", ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		// Infrastructure failure. Keep the current credentials; the
		// next 401 will try again.
		return "", fmt.Errorf("client: refresh status %d", resp.StatusCode)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	c.setToken(result.AccessToken)
	return result.AccessToken, nil
}

// Logout tears the session down server-side (best effort) and clears all
// held credentials.
func (c *Client) Logout(ctx context.Context) error {
	c.clear()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// setToken installs a new access token and re-arms the renewal timer, so
// the schedule self-perpetuates until rotation fails or the session ends.
func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.accessToken = token

	exp, err := security.DecodeAccessExpiry(token)
	if err != nil {
		c.log.Warn().Err(err).Msg("access token expiry undecodable, proactive renewal disabled")
		return
	}

	remaining := time.Until(exp)
	if remaining <= c.minRemaining {
		// Too close to expiry to be worth scheduling; the first 401
		// will refresh reactively.
		return
	}

	delay := remaining - c.renewLead
	if delay < c.minRenewDelay {
		delay = c.minRenewDelay
	}
	c.timer = time.AfterFunc(delay, c.renew)
}

func (c *Client) renew() {
	if c.AccessToken() == "" {
		// Timer fired after the credentials were cleared.
		return
	}
	if _, err := c.Refresh(context.Background()); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.log.Info().Msg("scheduled renewal found session dead")
			return
		}
		c.log.Warn().Err(err).Msg("scheduled renewal failed")
	}
}

func (c *Client) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.accessToken = ""
}

// stopTimerLocked prevents a stale timer from firing against a replaced or
// cleared token. Callers must hold mu.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
