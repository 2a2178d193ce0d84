package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, name string, raw map[string]string) Rule {
	t.Helper()
	conds, err := ParseConditions(raw)
	require.NoError(t, err)
	return Rule{Name: name, Enabled: true, Conditions: conds}
}

func TestParseConditionsValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr string
	}{
		{name: "empty rule", raw: map[string]string{}, wantErr: "at least one condition"},
		{name: "unknown key", raw: map[string]string{"body": "x"}, wantErr: "unknown condition key"},
		{name: "empty value", raw: map[string]string{"subject": "  "}, wantErr: "no patterns"},
		{name: "bad regex", raw: map[string]string{"author": "/[unclosed/"}, wantErr: "invalid regular expression"},
		{name: "non-integer on numeric key", raw: map[string]string{"min_patch_total": "three"}, wantErr: "requires an integer"},
		{name: "regex on numeric key", raw: map[string]string{"patch_total": "/3/"}, wantErr: "requires an integer"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConditions(tc.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	conds, err := ParseConditions(map[string]string{
		"subject": "damon",
		"author":  "SeongJae, /Park$/",
	})
	require.NoError(t, err)
	// Keys come out in sorted order so stored rules are deterministic.
	require.Len(t, conds, 2)
	assert.Equal(t, KeyAuthor, conds[0].Key)
	assert.Len(t, conds[0].Patterns, 2)
	assert.Equal(t, KeySubject, conds[1].Key)
}

func TestRuleMatchesAndAcrossKeysOrWithinLists(t *testing.T) {
	rule := mustRule(t, "damon-fixes", map[string]string{
		"subsys":  "mm",
		"subject": "damon, DAMOS",
	})

	msg := &Message{
		Subsystem: "mm",
		Subject:   "[PATCH] mm/damon: fix quota accounting",
	}
	assert.True(t, rule.Matches(msg), "both keys match, second via first list element")

	msg.Subject = "[PATCH] mm/damos: tune schemes"
	assert.True(t, rule.Matches(msg), "OR within the subject list")

	msg.Subject = "[PATCH] mm: unrelated cleanup"
	assert.False(t, rule.Matches(msg), "AND fails when one key does not match")

	msg.Subject = "[PATCH] mm/damon: fix quota accounting"
	msg.Subsystem = "sched"
	assert.False(t, rule.Matches(msg), "AND fails on the other key too")
}

func TestRuleMatchesKeys(t *testing.T) {
	msg := &Message{
		Author:     "Jane Dev",
		Email:      "jane@dev.gmail.com",
		Subsystem:  "netdev",
		Subject:    "[PATCH v2 0/4] net: mlx5 cleanups",
		Content:    "This series reworks the steering tables.",
		Recipients: []string{"netdev@vger.kernel.org", "davem@davemloft.net"},
		PatchTotal: 4,
	}

	tests := []struct {
		name string
		raw  map[string]string
		want bool
	}{
		{name: "author substring", raw: map[string]string{"author": "jane"}, want: true},
		{name: "author_email gmail domain regex", raw: map[string]string{"author_email": `/@(?:.*\.)?gmail\.com$/`}, want: true},
		{name: "author_email plain no match", raw: map[string]string{"author_email": "kernel.org"}, want: false},
		{name: "subsystem alias", raw: map[string]string{"subsystem": "netdev"}, want: true},
		{name: "keywords hits content", raw: map[string]string{"keywords": "steering"}, want: true},
		{name: "keywords ignores subject", raw: map[string]string{"keywords": "cleanups"}, want: false},
		{name: "cclist", raw: map[string]string{"cclist": "davemloft"}, want: true},
		{name: "cc alias", raw: map[string]string{"cc": "vger.kernel.org"}, want: true},
		{name: "min_patch_total met", raw: map[string]string{"min_patch_total": "3"}, want: true},
		{name: "min_patch_total not met", raw: map[string]string{"min_patch_total": "5"}, want: false},
		{name: "patch_total equality", raw: map[string]string{"patch_total": "4"}, want: true},
		{name: "patch_total mismatch", raw: map[string]string{"patch_total": "3"}, want: false},
		{name: "patch_total OR list", raw: map[string]string{"patch_total": "2, 4"}, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule := mustRule(t, tc.name, tc.raw)
			assert.Equal(t, tc.want, rule.Matches(msg))
		})
	}
}

func TestEvaluateModes(t *testing.T) {
	match := mustRule(t, "gmail-authors", map[string]string{
		"author_email": `/@(?:.*\.)?gmail\.com$/`,
	})
	miss := mustRule(t, "big-series", map[string]string{
		"min_patch_total": "10",
	})

	msg := &Message{
		Email:      "someone@dev.gmail.com",
		Subject:    "[PATCH] lib: add thing",
		PatchTotal: 1,
	}

	t.Run("highlight mode always creates", func(t *testing.T) {
		d := Evaluate(msg, []Rule{match, miss}, false)
		assert.True(t, d.CreateCard)
		assert.True(t, d.Highlighted)
		assert.Equal(t, []string{"gmail-authors"}, d.Matched)

		d = Evaluate(msg, []Rule{miss}, false)
		assert.True(t, d.CreateCard, "non-matching message still gets a card")
		assert.False(t, d.Highlighted)
		assert.Empty(t, d.Matched)
	})

	t.Run("exclusive mode gates creation", func(t *testing.T) {
		d := Evaluate(msg, []Rule{match, miss}, true)
		assert.True(t, d.CreateCard)
		assert.Equal(t, []string{"gmail-authors"}, d.Matched)

		d = Evaluate(msg, []Rule{miss}, true)
		assert.False(t, d.CreateCard)
	})

	t.Run("exclusive mode with no enabled rules creates nothing", func(t *testing.T) {
		disabled := match
		disabled.Enabled = false
		d := Evaluate(msg, []Rule{disabled}, true)
		assert.False(t, d.CreateCard)
		assert.Empty(t, d.Matched)

		d = Evaluate(msg, nil, true)
		assert.False(t, d.CreateCard)
	})

	t.Run("disabled rules never match", func(t *testing.T) {
		disabled := match
		disabled.Enabled = false
		d := Evaluate(msg, []Rule{disabled}, false)
		assert.True(t, d.CreateCard)
		assert.False(t, d.Highlighted)
	})
}
