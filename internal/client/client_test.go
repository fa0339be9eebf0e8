package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tokengate/api/internal/security"
)

// authStub is a minimal stand-in for the auth API: it mints real signed
// tokens so expiry decoding works, carries the refresh credential in a
// cookie, and counts refresh calls.
type authStub struct {
	accessTTL    time.Duration
	refreshCount atomic.Int64

	mu          sync.Mutex
	refreshCode int // response status for /refresh, 0 means 200
}

func (s *authStub) mintToken(t *testing.T) string {
	t.Helper()
	pair, err := security.IssueTokenPair("access-secret", "refresh-secret", "user-1", "tenant-1", "user", "token-1", time.Now(), s.accessTTL, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return pair.AccessToken
}

func (s *authStub) setRefreshCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCode = code
}

func newStubServer(t *testing.T, stub *authStub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	writeToken := func(w http.ResponseWriter, token string) {
		http.SetCookie(w, &http.Cookie{
			Name:     "tg_refresh",
			Value:    "refresh-opaque",
			Path:     "/api/v1/auth",
			HttpOnly: true,
		})
		json.NewEncoder(w).Encode(LoginResult{AccessToken: token})
	}

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, stub.mintToken(t))
	})

	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		stub.refreshCount.Add(1)
		if _, err := r.Cookie("tg_refresh"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		stub.mu.Lock()
		code := stub.refreshCode
		stub.mu.Unlock()
		if code != 0 && code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		// Give concurrent callers a window to pile up on the same flight.
		time.Sleep(50 * time.Millisecond)
		writeToken(w, stub.mintToken(t))
	})

	mux.HandleFunc("GET /api/v1/protected", func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := security.ParseAccessToken(token[len("Bearer "):], "access-secret"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = baseURL
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func loginClient(t *testing.T, c *Client) {
	t.Helper()
	if _, err := c.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.AccessToken() == "" {
		t.Fatal("login must install an access token")
	}
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	stub := &authStub{accessTTL: 15 * time.Minute}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{})
	loginClient(t, c)
	stub.refreshCount.Store(0)

	const callers = 8
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := c.Refresh(context.Background())
			if err != nil {
				t.Errorf("refresh %d: %v", i, err)
				return
			}
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	if n := stub.refreshCount.Load(); n != 1 {
		t.Fatalf("refresh hit the network %d times, want 1", n)
	}
	for i := 1; i < callers; i++ {
		if tokens[i] != tokens[0] {
			t.Fatal("all coalesced callers must observe the same token")
		}
	}
}

func TestDoReplaysOnceAfterRefresh(t *testing.T) {
	stub := &authStub{accessTTL: 15 * time.Minute}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{})
	loginClient(t, c)

	// Sabotage the held token so the first attempt 401s.
	c.mu.Lock()
	c.accessToken = "tampered"
	c.mu.Unlock()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/protected", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 after refresh and replay", resp.StatusCode)
	}
	if n := stub.refreshCount.Load(); n != 1 {
		t.Fatalf("refresh count = %d, want 1", n)
	}
}

func TestDoWithoutTokenFailsFast(t *testing.T) {
	stub := &authStub{accessTTL: 15 * time.Minute}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/protected", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := c.Do(req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
	if n := stub.refreshCount.Load(); n != 0 {
		t.Fatalf("refresh count = %d, want 0", n)
	}
}

func TestRefreshRejectionClearsCredentials(t *testing.T) {
	stub := &authStub{accessTTL: 15 * time.Minute}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{})
	loginClient(t, c)

	stub.setRefreshCode(http.StatusUnauthorized)
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
	if c.AccessToken() != "" {
		t.Fatal("credentials must be cleared after a rejected refresh")
	}
}

func TestRefreshServerErrorKeepsCredentials(t *testing.T) {
	stub := &authStub{accessTTL: 15 * time.Minute}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{})
	loginClient(t, c)
	held := c.AccessToken()

	stub.setRefreshCode(http.StatusBadGateway)
	if _, err := c.Refresh(context.Background()); err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("got %v, want a transient error", err)
	}
	if c.AccessToken() != held {
		t.Fatal("a transient refresh failure must not drop the held token")
	}
}

func TestScheduledRenewalFires(t *testing.T) {
	stub := &authStub{accessTTL: 2 * time.Second}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{
		RenewLead:     1900 * time.Millisecond,
		MinRenewDelay: 20 * time.Millisecond,
		MinRemaining:  50 * time.Millisecond,
	})
	loginClient(t, c)

	// Expiry minus lead is ~100ms out; the floored timer should fire well
	// within the deadline below.
	deadline := time.After(3 * time.Second)
	for stub.refreshCount.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled renewal never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNearExpiryTokenIsNotScheduled(t *testing.T) {
	stub := &authStub{accessTTL: 300 * time.Millisecond}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{
		RenewLead:     2 * time.Second,
		MinRenewDelay: 10 * time.Millisecond,
		MinRemaining:  5 * time.Second,
	})
	loginClient(t, c)

	// Were a timer armed it would fire at the 10ms floor; give it ample
	// room to prove it was never armed.
	time.Sleep(300 * time.Millisecond)
	if n := stub.refreshCount.Load(); n != 0 {
		t.Fatalf("refresh count = %d, want 0 for a nearly expired token", n)
	}
}

func TestLogoutClearsAndStopsRenewal(t *testing.T) {
	stub := &authStub{accessTTL: 2 * time.Second}
	srv := newStubServer(t, stub)
	c := newTestClient(t, srv.URL, Config{
		RenewLead:     1900 * time.Millisecond,
		MinRenewDelay: 50 * time.Millisecond,
		MinRemaining:  50 * time.Millisecond,
	})
	loginClient(t, c)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.AccessToken() != "" {
		t.Fatal("logout must clear the access token")
	}

	time.Sleep(300 * time.Millisecond)
	if n := stub.refreshCount.Load(); n != 0 {
		t.Fatalf("refresh fired %d times after logout, want 0", n)
	}
}
