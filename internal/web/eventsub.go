package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
)

type Enqueuer interface {
	Enqueue(identifier string) bool
}

type eventSubPayload struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event struct {
		UserID    string `json:"user_id"`
		UserLogin string `json:"user_login"`
	} `json:"event"`
}

type EventSubController struct {
	secret []byte
	queue  Enqueuer
	logger *zap.Logger
}

func NewEventSubController(secret string, queue Enqueuer, logger *zap.Logger) *EventSubController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSubController{secret: []byte(secret), queue: queue, logger: logger}
}

func (ec *EventSubController) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}
	if !VerifySignature(ec.secret, c.GetHeader(headerMessageID), c.GetHeader(headerMessageTimestamp), body, c.GetHeader(headerMessageSignature)) {
		c.String(http.StatusForbidden, "❌ Invalid signature")
		return
	}

	var payload eventSubPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.String(http.StatusBadRequest, "invalid payload")
			return
		}
	}
	if payload.Challenge != "" {
		c.String(http.StatusOK, payload.Challenge)
		return
	}

	if payload.Subscription.Type == "channel.ban" {
		identifier := payload.Event.UserID
		if identifier == "" {
			identifier = strings.ToLower(payload.Event.UserLogin)
		}
		if identifier != "" {
			if !ec.queue.Enqueue(identifier) {
				ec.logger.Warn("ban queue full, dropping event", zap.String("twitch", identifier))
			} else {
				ec.logger.Info("channel.ban event queued", zap.String("twitch", identifier))
			}
		}
	}
	c.Status(http.StatusOK)
}

// VerifySignature checks an EventSub signature: "sha256=" followed by the hex
// HMAC-SHA256 of message id, timestamp and body. An empty secret rejects
// everything.
func VerifySignature(secret []byte, messageID, timestamp string, body []byte, signature string) bool {
	if len(secret) == 0 || messageID == "" || timestamp == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
