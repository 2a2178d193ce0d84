package helpers

import "strings"

// CleanMessageID normalizes a Message-ID or In-Reply-To header value:
// angle brackets are stripped and, when the header carries several ids,
// only the first is kept (the primary reply target).
func CleanMessageID(header string) string {
	cleaned := strings.TrimSpace(header)
	if cleaned == "" {
		return ""
	}
	if strings.HasPrefix(cleaned, "<") && strings.HasSuffix(cleaned, ">") {
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	if fields := strings.Fields(cleaned); len(fields) > 0 {
		cleaned = strings.Trim(fields[0], "<>")
	}
	return cleaned
}
