package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// Atom structures for the subset lore emits, including the threading
// extension (http://purl.org/syndication/thread/1.0).

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID           string         `xml:"id"`
	Title        string         `xml:"title"`
	Updated      string         `xml:"updated"`
	Published    string         `xml:"published"`
	Author       atomPerson     `xml:"author"`
	Contributors []atomPerson   `xml:"contributor"`
	Links        []atomLink     `xml:"link"`
	Content      atomText       `xml:"content"`
	Summary      atomText       `xml:"summary"`
	InReplyTo    atomInReplyTo  `xml:"http://purl.org/syndication/thread/1.0 in-reply-to"`
}

type atomPerson struct {
	Name  string `xml:"name"`
	Email string `xml:"email"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// atomText keeps the raw inner XML: xhtml content bodies are nested
// markup that a chardata field would drop. The converter strips tags.
type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",innerxml"`
}

type atomInReplyTo struct {
	Ref  string `xml:"ref,attr"`
	Href string `xml:"href,attr"`
}

// parseAtom decodes a feed document into its raw entries. lore declares
// encoding="us-ascii", which the decoder refuses without a CharsetReader;
// ASCII and other UTF-8 subsets pass through as-is.
func parseAtom(data []byte) (*atomFeed, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "us-ascii", "ascii", "utf-8", "utf8":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported feed charset %q", charset)
	}

	var f atomFeed
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse atom feed: %w", err)
	}
	return &f, nil
}

// entryTime picks the entry timestamp, preferring published over updated.
func (e *atomEntry) entryTime() time.Time {
	for _, raw := range []string{e.Published, e.Updated} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// permalink returns the entry's alternate link, falling back to the
// first link present.
func (e *atomEntry) permalink() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

// messageIDFromPermalink recovers the RFC 5322 message id from an archive
// permalink: the last meaningful path segment of e.g.
// https://lore.kernel.org/linux-mm/20240101120000.1-1@host/ wrapped in
// angle brackets. Returns "" when no usable segment exists.
func messageIDFromPermalink(href string) string {
	href = strings.TrimSuffix(strings.TrimSpace(href), "/")
	if href == "" {
		return ""
	}
	idx := strings.LastIndex(href, "/")
	if idx < 0 || idx == len(href)-1 {
		return ""
	}
	segment := href[idx+1:]
	// Archive viewer suffixes like T/ or t/ are not message ids.
	if segment == "" || !strings.Contains(segment, "@") {
		return ""
	}
	return "<" + segment + ">"
}
