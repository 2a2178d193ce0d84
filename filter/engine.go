package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Condition keys accepted by rules. subsys/subsystem and cclist/cc are
// accepted as aliases for the same field.
const (
	KeyAuthor        = "author"
	KeyAuthorEmail   = "author_email"
	KeySubsys        = "subsys"
	KeySubsystem     = "subsystem"
	KeySubject       = "subject"
	KeyKeywords      = "keywords"
	KeyCCList        = "cclist"
	KeyCC            = "cc"
	KeyMinPatchTotal = "min_patch_total"
	KeyPatchTotal    = "patch_total"
)

var validKeys = map[string]bool{
	KeyAuthor:        true,
	KeyAuthorEmail:   true,
	KeySubsys:        true,
	KeySubsystem:     true,
	KeySubject:       true,
	KeyKeywords:      true,
	KeyCCList:        true,
	KeyCC:            true,
	KeyMinPatchTotal: true,
	KeyPatchTotal:    true,
}

func numericKey(key string) bool {
	return key == KeyMinPatchTotal || key == KeyPatchTotal
}

// Condition is one key with its OR-list of patterns.
type Condition struct {
	Key      string    `json:"key"`
	Patterns []Pattern `json:"patterns"`
}

// Rule is a named, toggleable set of conditions. A message matches the
// rule only when every condition matches (AND across keys, OR within a
// condition's pattern list).
type Rule struct {
	ID         int64       `json:"-"`
	Name       string      `json:"-"`
	Enabled    bool        `json:"-"`
	Conditions []Condition `json:"conditions"`
}

// ParseConditions validates and normalizes raw key/value condition input
// into ordered conditions. Keys are processed in sorted order so the stored
// form is deterministic regardless of input map iteration.
func ParseConditions(raw map[string]string) ([]Condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rule must have at least one condition")
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		key := strings.ToLower(strings.TrimSpace(k))
		if !validKeys[key] {
			return nil, fmt.Errorf("unknown condition key %q", k)
		}
		cond, err := parseCondition(key, raw[k])
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func parseCondition(key, value string) (Condition, error) {
	parts := SplitPatternList(value)
	if len(parts) == 0 {
		return Condition{}, fmt.Errorf("condition %q has no patterns", key)
	}

	patterns := make([]Pattern, 0, len(parts))
	for _, part := range parts {
		p, err := ParsePattern(part)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: %w", key, err)
		}
		if numericKey(key) && p.Kind != KindNumber {
			return Condition{}, fmt.Errorf("condition %q requires an integer, got %q", key, part)
		}
		patterns = append(patterns, p)
	}
	return Condition{Key: key, Patterns: patterns}, nil
}

// Message is the flattened view of a candidate message that rules
// evaluate against.
type Message struct {
	Author     string
	Email      string
	Subsystem  string
	Subject    string
	Content    string
	Recipients []string
	PatchTotal int64
}

// Matches reports whether every condition in the rule matches the message.
// A rule with no conditions never matches.
func (r *Rule) Matches(msg *Message) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for i := range r.Conditions {
		if !matchCondition(&r.Conditions[i], msg) {
			return false
		}
	}
	return true
}

func matchCondition(c *Condition, msg *Message) bool {
	switch c.Key {
	case KeyMinPatchTotal:
		return anyNumber(c.Patterns, msg.PatchTotal, true)
	case KeyPatchTotal:
		return anyNumber(c.Patterns, msg.PatchTotal, false)
	case KeyCCList, KeyCC:
		return anyString(c.Patterns, strings.Join(msg.Recipients, " "))
	case KeyAuthor:
		return anyString(c.Patterns, msg.Author)
	case KeyAuthorEmail:
		return anyString(c.Patterns, msg.Email)
	case KeySubsys, KeySubsystem:
		return anyString(c.Patterns, msg.Subsystem)
	case KeySubject:
		return anyString(c.Patterns, msg.Subject)
	case KeyKeywords:
		return anyString(c.Patterns, msg.Content)
	default:
		return false
	}
}

func anyString(patterns []Pattern, val string) bool {
	for i := range patterns {
		if patterns[i].MatchString(val) {
			return true
		}
	}
	return false
}

func anyNumber(patterns []Pattern, val int64, atLeast bool) bool {
	for i := range patterns {
		if patterns[i].MatchNumber(val, atLeast) {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating a message against the rule set.
type Decision struct {
	CreateCard  bool
	Highlighted bool
	Matched     []string
}

// Evaluate runs every enabled rule against the message and applies the
// global mode. In highlight mode (exclusive=false) a card is always
// created and matches only add highlighting. In exclusive mode a card is
// created only when at least one enabled rule matched; with zero enabled
// rules nothing is created.
func Evaluate(msg *Message, rules []Rule, exclusive bool) Decision {
	var matched []string
	for i := range rules {
		if !rules[i].Enabled {
			continue
		}
		if rules[i].Matches(msg) {
			matched = append(matched, rules[i].Name)
		}
	}

	d := Decision{
		Highlighted: len(matched) > 0,
		Matched:     matched,
	}
	if exclusive {
		d.CreateCard = len(matched) > 0
	} else {
		d.CreateCard = true
	}
	return d
}
