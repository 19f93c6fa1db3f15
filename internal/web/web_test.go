package web

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"guildwarden/internal/storage"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *recordingQueue) Enqueue(identifier string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, identifier)
	return true
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]storage.LinkedAccount
}

func (m *memoryAccounts) UpsertLinkedAccount(ctx context.Context, account storage.LinkedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.DiscordID] = storage.MergeLinkedAccount(m.accounts[account.DiscordID], account)
	return nil
}

func (m *memoryAccounts) DiscordIDsByTwitch(ctx context.Context, identifier string) ([]string, error) {
	return nil, nil
}

func sign(secret, id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + ts))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postEvent(t *testing.T, handler http.Handler, secret string, body string, tamper bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/twitch/events", strings.NewReader(body))
	req.Header.Set(headerMessageID, "msg-1")
	req.Header.Set(headerMessageTimestamp, "2024-01-01T00:00:00Z")
	signature := sign(secret, "msg-1", "2024-01-01T00:00:00Z", []byte(body))
	if tamper {
		signature = sign("wrong", "msg-1", "2024-01-01T00:00:00Z", []byte(body))
	}
	req.Header.Set(headerMessageSignature, signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server := NewServer(":0", nil, nil, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestEventSubRejectsBadSignature(t *testing.T) {
	queue := &recordingQueue{}
	server := NewServer(":0", nil, NewEventSubController("s3cret", queue, nil), nil)

	rec := postEvent(t, server.Handler(), "s3cret", `{"subscription":{"type":"channel.ban"},"event":{"user_id":"42"}}`, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("unsigned event was queued")
	}
}

func TestEventSubAnswersChallenge(t *testing.T) {
	server := NewServer(":0", nil, NewEventSubController("s3cret", &recordingQueue{}, nil), nil)
	rec := postEvent(t, server.Handler(), "s3cret", `{"challenge":"pogchamp"}`, false)
	if rec.Code != http.StatusOK || rec.Body.String() != "pogchamp" {
		t.Fatalf("unexpected challenge response %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventSubQueuesBans(t *testing.T) {
	queue := &recordingQueue{}
	server := NewServer(":0", nil, NewEventSubController("s3cret", queue, nil), nil)

	postEvent(t, server.Handler(), "s3cret", `{"subscription":{"type":"channel.ban"},"event":{"user_id":"42","user_login":"Someone"}}`, false)
	postEvent(t, server.Handler(), "s3cret", `{"subscription":{"type":"channel.ban"},"event":{"user_login":"Someone"}}`, false)
	postEvent(t, server.Handler(), "s3cret", `{"subscription":{"type":"channel.follow"},"event":{"user_id":"7"}}`, false)

	if len(queue.jobs) != 2 || queue.jobs[0] != "42" || queue.jobs[1] != "someone" {
		t.Fatalf("unexpected queued jobs %v", queue.jobs)
	}
}

func TestVerifySignatureRequiresSecret(t *testing.T) {
	body := []byte("{}")
	if VerifySignature(nil, "id", "ts", body, sign("", "id", "ts", body)) {
		t.Fatalf("empty secret must reject")
	}
}

func newDiscordAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1001"})
	})
	mux.HandleFunc("/users/@me/connections", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]connection{
			{Type: "twitch", ID: "t-77", Name: "StreamerName"},
			{Type: "youtube", ID: "yt-1", Name: "My Channel"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newLinker(t *testing.T) (*Linker, *memoryAccounts) {
	t.Helper()
	api := newDiscordAPI(t)
	accounts := &memoryAccounts{accounts: make(map[string]storage.LinkedAccount)}
	linker := NewLinker(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   api.URL + "/oauth2/authorize",
			TokenURL:  api.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		APIBase: api.URL,
	}, accounts, nil)
	return linker, accounts
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return parsed.Query().Get("state")
}

func callback(server *Server, code, state string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	target := "/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCallbackLinksTwitch(t *testing.T) {
	linker, accounts := newLinker(t)
	server := NewServer(":0", linker, nil, nil)

	authURL, err := linker.AuthURL(LinkTwitch)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	state := stateFrom(t, authURL)
	if !strings.HasPrefix(state, "twitch:") {
		t.Fatalf("unexpected state %q", state)
	}

	rec := callback(server, "good-code", state)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Twitch: StreamerName") {
		t.Fatalf("unexpected callback response %d %s", rec.Code, rec.Body.String())
	}
	account := accounts.accounts["1001"]
	if account.TwitchID != "t-77" || account.TwitchUsername != "StreamerName" || account.YouTubeChannel != "" {
		t.Fatalf("unexpected account %+v", account)
	}

	if rec := callback(server, "good-code", state); rec.Code != http.StatusBadRequest {
		t.Fatalf("state reuse must fail, got %d", rec.Code)
	}
}

func TestCallbackLinksYouTube(t *testing.T) {
	linker, accounts := newLinker(t)
	server := NewServer(":0", linker, nil, nil)
	authURL, err := linker.AuthURL(LinkYouTube)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}

	rec := callback(server, "good-code", stateFrom(t, authURL))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "YouTube: My Channel") {
		t.Fatalf("unexpected callback response %d %s", rec.Code, rec.Body.String())
	}
	if account := accounts.accounts["1001"]; account.YouTubeChannel != "My Channel" || account.TwitchID != "" {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestCallbackRejectsUnknownStateAndBadCode(t *testing.T) {
	linker, _ := newLinker(t)
	server := NewServer(":0", linker, nil, nil)

	if rec := callback(server, "good-code", "twitch:forged"); rec.Code != http.StatusBadRequest {
		t.Fatalf("forged state accepted: %d", rec.Code)
	}
	authURL, _ := linker.AuthURL(LinkTwitch)
	if rec := callback(server, "bad-code", stateFrom(t, authURL)); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad code accepted: %d", rec.Code)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))
	if rec.Code != http.StatusBadRequest || rec.Body.String() != "No code provided" {
		t.Fatalf("missing code: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthURLRequiresConfiguration(t *testing.T) {
	linker := NewLinker(OAuthConfig{ClientID: "x", RedirectURL: "None"}, &memoryAccounts{}, nil)
	if _, err := linker.AuthURL(LinkTwitch); err != ErrOAuthDisabled {
		t.Fatalf("expected ErrOAuthDisabled, got %v", err)
	}
}
