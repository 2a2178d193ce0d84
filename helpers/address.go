package helpers

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
)

var bareEmailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractEmail pulls the email address out of an author string such as
// "Jane Doe <jane@example.com>" or "jane@example.com (Jane Doe)".
// It returns an empty string when no address can be found.
func ExtractEmail(author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(author); err == nil {
		return strings.ToLower(addr.Address)
	}
	// Feeds are not always RFC 5322 clean; fall back to scanning for
	// anything address-shaped.
	if m := bareEmailRe.FindString(author); m != "" {
		return strings.ToLower(m)
	}
	return ""
}

// ExtractName returns the display-name part of an author string, or the
// string itself when it is not parseable.
func ExtractName(author string) string {
	author = strings.TrimSpace(author)
	if addr, err := mail.ParseAddress(author); err == nil && addr.Name != "" {
		return addr.Name
	}
	return author
}

// MergeRecipients merges To and CC address lists into one deduplicated,
// sorted set of lowercase addresses. Entries that carry display names are
// reduced to the bare address; unparseable entries are dropped.
func MergeRecipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			addr := ExtractEmail(raw)
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}
