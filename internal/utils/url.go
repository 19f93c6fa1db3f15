package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeHost returns the lower-cased ASCII (punycode) form of the URL's
// host.
func NormalizeHost(raw string) (string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(strings.TrimRight(raw, ".,;:!?)]}'\""))
	if err != nil {
		return "", err
	}
	return asciiHost(parsed.Hostname()), nil
}

// LinkHosts returns the normalized host of every URL in content, skipping
// URLs that do not parse.
func LinkHosts(content string) []string {
	var hosts []string
	for _, raw := range ExtractURLs(content) {
		host, err := NormalizeHost(raw)
		if err != nil || host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// HostMatches reports whether host equals the host part of pattern or is a
// subdomain of it. Both sides are compared in normalized ASCII form.
func HostMatches(host, pattern string) bool {
	pattern = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(pattern), "https://"), "http://")
	if idx := strings.IndexAny(pattern, "/?#"); idx >= 0 {
		pattern = pattern[:idx]
	}
	pattern = asciiHost(strings.TrimPrefix(pattern, "www."))
	if pattern == "" || !strings.Contains(pattern, ".") {
		return false
	}
	host = strings.TrimPrefix(host, "www.")
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func asciiHost(host string) string {
	host = strings.ToLower(host)
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}
