package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guildwarden/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	LinkTwitch  = "twitch"
	LinkYouTube = "youtube"

	DiscordAPIBase = "https://discord.com/api"
	stateTTL       = 10 * time.Minute
)

var ErrOAuthDisabled = errors.New("oauth not configured")

// DiscordEndpoint is Discord's OAuth2 endpoint. Credentials go in the form
// body, as Discord documents.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/api/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	APIBase      string
}

type connection struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Linker issues account-linking URLs and completes them on callback.
type Linker struct {
	oauth    *oauth2.Config
	apiBase  string
	states   *expirable.LRU[string, string]
	accounts storage.AccountStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewLinker(cfg OAuthConfig, accounts storage.AccountStore, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = DiscordEndpoint
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DiscordAPIBase
	}
	return &Linker{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"identify", "connections"},
		},
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		states:   expirable.NewLRU[string, string](1024, nil, stateTTL),
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Linker) Enabled() bool {
	redirect := strings.ToLower(strings.TrimSpace(l.oauth.RedirectURL))
	return l.oauth.ClientID != "" && l.oauth.ClientSecret != "" && redirect != "" && redirect != "none" && redirect != "null"
}

// AuthURL returns the URL a user opens to link a connection of kind. The
// state it embeds is single use and expires after ten minutes.
func (l *Linker) AuthURL(kind string) (string, error) {
	if !l.Enabled() {
		return "", ErrOAuthDisabled
	}
	if kind != LinkTwitch && kind != LinkYouTube {
		return "", fmt.Errorf("unknown link kind %q", kind)
	}
	state := kind + ":" + uuid.NewString()
	l.states.Add(state, kind)
	return l.oauth.AuthCodeURL(state), nil
}

func (l *Linker) Callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "No code provided")
		return
	}
	if !l.Enabled() {
		c.String(http.StatusBadRequest, "OAuth not configured on server.")
		return
	}
	state := c.Query("state")
	kind, ok := l.states.Get(state)
	if !ok {
		c.String(http.StatusBadRequest, "Invalid or expired state")
		return
	}
	l.states.Remove(state)

	account, err := l.link(c.Request.Context(), code, kind)
	if err != nil {
		l.logger.Warn("oauth link failed", zap.String("kind", kind), zap.Error(err))
		c.String(http.StatusBadRequest, "OAuth error: %v", err)
		return
	}
	if kind == LinkYouTube {
		c.String(http.StatusOK, "✅ Linked successfully! YouTube: %s", account.YouTubeChannel)
		return
	}
	c.String(http.StatusOK, "✅ Linked successfully! Twitch: %s", account.TwitchUsername)
}

func (l *Linker) link(ctx context.Context, code, kind string) (storage.LinkedAccount, error) {
	token, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return storage.LinkedAccount{}, fmt.Errorf("exchange code: %w", err)
	}
	client := l.oauth.Client(ctx, token)

	var user struct {
		ID string `json:"id"`
	}
	if err := l.getJSON(ctx, client, "/users/@me", &user); err != nil {
		return storage.LinkedAccount{}, err
	}
	if user.ID == "" {
		return storage.LinkedAccount{}, errors.New("discord user id missing")
	}
	var connections []connection
	if err := l.getJSON(ctx, client, "/users/@me/connections", &connections); err != nil {
		return storage.LinkedAccount{}, err
	}

	account := storage.LinkedAccount{DiscordID: user.ID, UpdatedAt: l.now()}
	for _, conn := range connections {
		switch {
		case conn.Type == LinkTwitch && kind == LinkTwitch:
			account.TwitchID = conn.ID
			account.TwitchUsername = conn.Name
		case conn.Type == LinkYouTube && kind == LinkYouTube:
			account.YouTubeChannel = conn.Name
		}
	}
	if err := l.accounts.UpsertLinkedAccount(ctx, account); err != nil {
		return storage.LinkedAccount{}, fmt.Errorf("save linked account: %w", err)
	}
	return account, nil
}

func (l *Linker) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
