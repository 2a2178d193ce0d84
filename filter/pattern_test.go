package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    PatternKind
		value   string
		ci      bool
		number  int64
		wantErr bool
	}{
		{name: "plain text", input: "Gmail", kind: KindSubstring, value: "Gmail"},
		{name: "case sensitive regex", input: "/Gmail/", kind: KindRegex, value: "Gmail"},
		{name: "case insensitive regex", input: "/Gmail/i", kind: KindRegex, value: "Gmail", ci: true},
		{name: "bare integer", input: "3", kind: KindNumber, value: "3", number: 3},
		{name: "negative integer", input: "-1", kind: KindNumber, value: "-1", number: -1},
		{name: "whitespace trimmed", input: "  mm/damon  ", kind: KindSubstring, value: "mm/damon"},
		{name: "unterminated slash is plain text", input: "/boot", kind: KindSubstring, value: "/boot"},
		{name: "invalid regex", input: "/[unclosed/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "only whitespace", input: "   ", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePattern(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Kind)
			assert.Equal(t, tc.value, p.Value)
			assert.Equal(t, tc.ci, p.CaseInsensitive)
			assert.Equal(t, tc.number, p.Number)
		})
	}
}

func TestPatternCaseSensitivity(t *testing.T) {
	plain, err := ParsePattern("Gmail")
	require.NoError(t, err)
	cs, err := ParsePattern("/Gmail/")
	require.NoError(t, err)
	ci, err := ParsePattern("/Gmail/i")
	require.NoError(t, err)

	// Plain substrings are case-insensitive.
	assert.True(t, plain.MatchString("user@GMAIL.com"))
	// /re/ is case-sensitive, /re/i is not.
	assert.False(t, cs.MatchString("user@gmail.com"))
	assert.True(t, cs.MatchString("user@Gmail.com"))
	assert.True(t, ci.MatchString("user@gmail.com"))
}

func TestPatternJSONRoundTrip(t *testing.T) {
	for _, src := range []string{"Gmail", "/@(?:.*\\.)?gmail\\.com$/", "/fixes/i", "5"} {
		orig, err := ParsePattern(src)
		require.NoError(t, err)

		data, err := json.Marshal(orig)
		require.NoError(t, err)

		var restored Pattern
		require.NoError(t, json.Unmarshal(data, &restored))
		assert.Equal(t, orig.Kind, restored.Kind)
		assert.Equal(t, orig.Value, restored.Value)
		assert.Equal(t, src, restored.String())

		if restored.Kind == KindRegex {
			// The compiled matcher must survive the round trip.
			assert.Equal(t, orig.MatchString("user@dev.gmail.com"), restored.MatchString("user@dev.gmail.com"))
		}
	}
}

func TestPatternUnmarshalRejectsBadRegex(t *testing.T) {
	var p Pattern
	err := json.Unmarshal([]byte(`{"kind":"regex","value":"[unclosed"}`), &p)
	require.Error(t, err)
}

func TestSplitPatternList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single", input: "torvalds", want: []string{"torvalds"}},
		{name: "list", input: "mm, sched, rcu", want: []string{"mm", "sched", "rcu"}},
		{name: "comma inside regex", input: "/a{1,3}/, plain", want: []string{"/a{1,3}/", "plain"}},
		{name: "regex with flag", input: "/Foo/i, bar", want: []string{"/Foo/i", "bar"}},
		{name: "empty elements dropped", input: "a,, b,", want: []string{"a", "b"}},
		{name: "all empty", input: " , ", want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitPatternList(tc.input))
		})
	}
}
