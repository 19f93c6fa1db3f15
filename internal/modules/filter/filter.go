// Package filter decides whether a message breaks a guild's content rules.
// Rules run in a fixed order and the first match wins: bad words, then
// excessive capitals, then banned links.
package filter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"guildwarden/internal/settings"
	"guildwarden/internal/utils"
)

type Kind int

const (
	Clean Kind = iota
	BadWord
	ExcessiveCaps
	BannedLink
)

// capsMinLength is the length a message must exceed before its capitals are
// counted.
const capsMinLength = 10

func (k Kind) String() string {
	switch k {
	case BadWord:
		return "bad_word"
	case ExcessiveCaps:
		return "excessive_caps"
	case BannedLink:
		return "banned_link"
	default:
		return "clean"
	}
}

type Verdict struct {
	Kind Kind
	// Rule is the Name of the rule that matched, empty when clean.
	Rule  string
	Word  string
	Ratio float64
	Link  string
}

func (v Verdict) Clean() bool { return v.Kind == Clean }

// Reason is the text shown to the warned member.
func (v Verdict) Reason() string {
	switch v.Kind {
	case BadWord:
		return "Inappropriate language."
	case ExcessiveCaps:
		return "Too many capital letters."
	case BannedLink:
		return "Posting invite or banned links."
	default:
		return ""
	}
}

// Detail is the text written to the audit trail.
func (v Verdict) Detail() string {
	switch v.Kind {
	case BadWord:
		return fmt.Sprintf("rule=bad_word word=%q", v.Word)
	case ExcessiveCaps:
		return fmt.Sprintf("rule=caps ratio=%.2f", v.Ratio)
	case BannedLink:
		return fmt.Sprintf("rule=banned_link link=%q", v.Link)
	default:
		return "rule=none"
	}
}

// Rule inspects one message. ok is false when the rule does not apply.
type Rule interface {
	Name() string
	Check(msg Message, s settings.GuildSettings) (Verdict, bool)
}

// Message is the content under evaluation, lower-cased once for every rule.
type Message struct {
	Content string
	Lower   string
}

func NewMessage(content string) Message {
	return Message{Content: content, Lower: strings.ToLower(content)}
}

// Rules is the evaluation order.
var Rules = []Rule{badWordRule{}, capsRule{}, linkRule{}}

func Evaluate(content string, s settings.GuildSettings) Verdict {
	return EvaluateRules(Rules, content, s)
}

func EvaluateRules(rules []Rule, content string, s settings.GuildSettings) Verdict {
	msg := NewMessage(content)
	for _, rule := range rules {
		if verdict, ok := rule.Check(msg, s); ok {
			verdict.Rule = rule.Name()
			return verdict
		}
	}
	return Verdict{Kind: Clean}
}

type badWordRule struct{}

func (badWordRule) Name() string { return "bad_word" }

func (badWordRule) Check(msg Message, s settings.GuildSettings) (Verdict, bool) {
	for _, word := range s.BadWords {
		word = strings.ToLower(word)
		if word != "" && strings.Contains(msg.Lower, word) {
			return Verdict{Kind: BadWord, Word: word}, true
		}
	}
	return Verdict{}, false
}

type capsRule struct{}

func (capsRule) Name() string { return "caps" }

func (capsRule) Check(msg Message, s settings.GuildSettings) (Verdict, bool) {
	if utf8.RuneCountInString(msg.Content) <= capsMinLength {
		return Verdict{}, false
	}
	ratio, ok := CapsRatio(msg.Content)
	if !ok || ratio <= s.CapsThreshold {
		return Verdict{}, false
	}
	return Verdict{Kind: ExcessiveCaps, Ratio: ratio}, true
}

// CapsRatio returns uppercase letters over all letters. ok is false when the
// content has no letters at all.
func CapsRatio(content string) (float64, bool) {
	letters, upper := 0, 0
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, false
	}
	return float64(upper) / float64(letters), true
}

type linkRule struct{}

func (linkRule) Name() string { return "banned_link" }

func (linkRule) Check(msg Message, s settings.GuildSettings) (Verdict, bool) {
	var hosts []string
	hostsParsed := false
	for _, link := range s.BannedLinks {
		link = strings.ToLower(link)
		if link == "" {
			continue
		}
		if strings.Contains(msg.Lower, link) {
			return Verdict{Kind: BannedLink, Link: link}, true
		}
		if !hostsParsed {
			hosts = utils.LinkHosts(msg.Content)
			hostsParsed = true
		}
		for _, host := range hosts {
			if utils.HostMatches(host, link) {
				return Verdict{Kind: BannedLink, Link: link}, true
			}
		}
	}
	return Verdict{}, false
}
