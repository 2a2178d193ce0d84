package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="us-ascii"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:thr="http://purl.org/syndication/thread/1.0">
  <title>linux-mm archive feed</title>
  <updated>2026-08-30T10:15:00Z</updated>
  <entry>
    <author>
      <name>Jane Dev</name>
      <email>jane@example.org</email>
    </author>
    <title>[PATCH v3 0/4] mm/damon: quota rework</title>
    <updated>2026-08-30T10:15:00Z</updated>
    <link href="https://lore.kernel.org/linux-mm/20260830101500.100-1@example.org/"/>
    <id>urn:uuid:aaaa-bbbb-cccc-0001</id>
    <content type="xhtml">
      <div xmlns="http://www.w3.org/1999/xhtml">
        <pre>This series reworks the DAMOS quota accounting.</pre>
      </div>
    </content>
  </entry>
  <entry>
    <author>
      <name>Jane Dev</name>
      <email>Jane Dev &lt;jane@example.org&gt;</email>
    </author>
    <title>[PATCH v3 1/4] mm/damon: split quota charge</title>
    <updated>2026-08-30T10:15:05Z</updated>
    <link href="https://lore.kernel.org/linux-mm/20260830101500.100-2@example.org/"/>
    <id>urn:uuid:aaaa-bbbb-cccc-0002</id>
    <thr:in-reply-to
        ref="urn:uuid:aaaa-bbbb-cccc-0001"
        href="https://lore.kernel.org/linux-mm/20260830101500.100-1@example.org/"/>
  </entry>
  <entry>
    <author><name>Anon</name></author>
    <title>regression report: boot hang on 6.17-rc3</title>
    <updated>2026-08-30T09:00:00Z</updated>
    <link href="https://lore.kernel.org/linux-mm/"/>
    <id></id>
  </entry>
</feed>`

func TestParseAtomLoreFeed(t *testing.T) {
	parsed, err := parseAtom([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 3)

	cover := convertEntry(&parsed.Entries[0], "linux-mm")
	assert.Equal(t, "<20260830101500.100-1@example.org>", cover.MessageIDHeader)
	assert.Empty(t, cover.InReplyToHeader)
	assert.Equal(t, "[PATCH v3 0/4] mm/damon: quota rework", cover.Subject)
	assert.Equal(t, "Jane Dev", cover.Author)
	assert.Equal(t, "jane@example.org", cover.AuthorEmail)
	assert.Equal(t, "linux-mm", cover.Subsystem)
	assert.Contains(t, cover.Content, "DAMOS quota accounting")
	assert.Equal(t,
		time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC),
		cover.Published.UTC())

	member := convertEntry(&parsed.Entries[1], "linux-mm")
	assert.Equal(t, "<20260830101500.100-2@example.org>", member.MessageIDHeader)
	assert.Equal(t, "<20260830101500.100-1@example.org>", member.InReplyToHeader,
		"threading parent comes from the thr:in-reply-to permalink")
	assert.Equal(t, "jane@example.org", member.AuthorEmail,
		"display-form email strings still yield the bare address")
}

func TestConvertEntryFallbackIdentity(t *testing.T) {
	parsed, err := parseAtom([]byte(sampleFeed))
	require.NoError(t, err)

	// The third entry has no usable permalink segment and no feed id.
	e1 := convertEntry(&parsed.Entries[2], "linux-mm")
	e2 := convertEntry(&parsed.Entries[2], "linux-mm")
	assert.NotEmpty(t, e1.MessageIDHeader)
	assert.Contains(t, e1.MessageIDHeader, "@patchlore.synthetic")
	assert.Equal(t, e1.MessageIDHeader, e2.MessageIDHeader,
		"synthetic identity must be stable across cycles")

	other := convertEntry(&parsed.Entries[2], "netdev")
	assert.NotEqual(t, e1.MessageIDHeader, other.MessageIDHeader,
		"identity includes the subsystem")
}

func TestMessageIDFromPermalink(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"https://lore.kernel.org/linux-mm/abc.123@host/", "<abc.123@host>"},
		{"https://lore.kernel.org/linux-mm/abc.123@host", "<abc.123@host>"},
		{"https://lore.kernel.org/linux-mm/", ""},
		{"", ""},
		{"https://lore.kernel.org/linux-mm/T/", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, messageIDFromPermalink(tc.href), tc.href)
	}
}

func TestParseAtomRejectsGarbage(t *testing.T) {
	_, err := parseAtom([]byte("not xml at all <<<"))
	require.Error(t, err)
}

func TestParseAtomCharsets(t *testing.T) {
	const body = `<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title></feed>`

	// lore declares us-ascii; the decoder must accept it.
	for _, enc := range []string{"us-ascii", "US-ASCII", "UTF-8"} {
		doc := `<?xml version="1.0" encoding="` + enc + `"?>` + body
		_, err := parseAtom([]byte(doc))
		assert.NoError(t, err, enc)
	}

	_, err := parseAtom([]byte(`<?xml version="1.0" encoding="shift_jis"?>` + body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charset")
}
