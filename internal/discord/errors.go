package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindPermissionDenied
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unexpected"
	}
}

// Classify maps a platform error onto the failure kinds the moderation code
// distinguishes. A nil error classifies as KindUnexpected; callers check for
// nil first.
func Classify(err error) Kind {
	var rateLimit *discordgo.RateLimitError
	if errors.As(err, &rateLimit) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return KindUnexpected
	}
	switch status := restErr.Response.StatusCode; {
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindPermissionDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindUnexpected
	}
}
