// Package filter implements the patch card filter rule engine: a small
// pattern-matching DSL evaluated against candidate messages, with a global
// highlight/exclusive mode deciding whether non-matching messages still
// produce cards.
//
// Pattern grammar, per condition value:
//
//	plain text   case-insensitive substring match
//	/re/         regular expression, case-sensitive
//	/re/i        regular expression, case-insensitive
//	a, b, c      comma-separated list of the above, OR across the list
//	42           bare integer, numeric comparison on numeric keys
//
// Patterns are parsed and validated once when a rule is added and stored in
// normalized form; evaluation never re-parses.
package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatternKind tags the normalized pattern variant.
type PatternKind string

const (
	KindSubstring PatternKind = "substring"
	KindRegex     PatternKind = "regex"
	KindNumber    PatternKind = "number"
)

// Pattern is one normalized match pattern.
type Pattern struct {
	Kind PatternKind
	// Value holds the substring text or the regular expression source.
	Value string
	// CaseInsensitive applies to KindRegex (the /re/i form).
	CaseInsensitive bool
	// Number holds the integer for KindNumber.
	Number int64

	re *regexp.Regexp
}

// ParsePattern parses a single pattern value.
func ParsePattern(raw string) (Pattern, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	if strings.HasPrefix(s, "/") && len(s) > 1 {
		var source string
		var ci bool
		switch {
		case strings.HasSuffix(s, "/i") && len(s) > 3:
			source, ci = s[1:len(s)-2], true
		case strings.HasSuffix(s, "/") && len(s) > 2:
			source, ci = s[1:len(s)-1], false
		default:
			// A lone "/x" is treated as plain text, matching how users
			// type paths; only the closed /re/ forms are regexes.
			return Pattern{Kind: KindSubstring, Value: s}, nil
		}
		return compileRegexPattern(source, ci)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Pattern{Kind: KindNumber, Value: s, Number: n}, nil
	}

	return Pattern{Kind: KindSubstring, Value: s}, nil
}

func compileRegexPattern(source string, ci bool) (Pattern, error) {
	compileSrc := source
	if ci {
		compileSrc = "(?i)" + source
	}
	re, err := regexp.Compile(compileSrc)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid regular expression /%s/: %w", source, err)
	}
	return Pattern{Kind: KindRegex, Value: source, CaseInsensitive: ci, re: re}, nil
}

// MatchString reports whether the pattern matches a string value.
// Number patterns fall back to substring semantics on string fields.
func (p *Pattern) MatchString(val string) bool {
	if val == "" {
		return false
	}
	switch p.Kind {
	case KindRegex:
		return p.re != nil && p.re.MatchString(val)
	default:
		return strings.Contains(strings.ToLower(val), strings.ToLower(p.Value))
	}
}

// MatchNumber reports whether the pattern matches an integer value.
// atLeast selects threshold (val >= N) instead of equality semantics.
func (p *Pattern) MatchNumber(val int64, atLeast bool) bool {
	if p.Kind != KindNumber {
		return false
	}
	if atLeast {
		return val >= p.Number
	}
	return val == p.Number
}

// String renders the pattern back in its source form.
func (p Pattern) String() string {
	switch p.Kind {
	case KindRegex:
		if p.CaseInsensitive {
			return "/" + p.Value + "/i"
		}
		return "/" + p.Value + "/"
	default:
		return p.Value
	}
}

type patternJSON struct {
	Kind            PatternKind `json:"kind"`
	Value           string      `json:"value"`
	CaseInsensitive bool        `json:"ci,omitempty"`
	Number          int64       `json:"number,omitempty"`
}

// MarshalJSON stores the normalized tagged form.
func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(patternJSON{
		Kind:            p.Kind,
		Value:           p.Value,
		CaseInsensitive: p.CaseInsensitive,
		Number:          p.Number,
	})
}

// UnmarshalJSON restores a pattern and recompiles its regex.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var pj patternJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	switch pj.Kind {
	case KindRegex:
		parsed, err := compileRegexPattern(pj.Value, pj.CaseInsensitive)
		if err != nil {
			return err
		}
		*p = parsed
	case KindNumber:
		*p = Pattern{Kind: KindNumber, Value: pj.Value, Number: pj.Number}
	case KindSubstring:
		*p = Pattern{Kind: KindSubstring, Value: pj.Value}
	default:
		return fmt.Errorf("unknown pattern kind %q", pj.Kind)
	}
	return nil
}

// SplitPatternList splits a comma-separated condition value into its
// pattern elements. Commas inside a /re/ or /re/i segment do not split.
func SplitPatternList(raw string) []string {
	var parts []string
	var cur strings.Builder
	inRegex := false
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '/' && !inRegex && strings.TrimSpace(cur.String()) == "":
			inRegex = true
			cur.WriteRune(r)
		case r == '/' && inRegex:
			inRegex = false
			cur.WriteRune(r)
			// Swallow a trailing case-insensitivity flag.
			if i+1 < len(runes) && runes[i+1] == 'i' {
				cur.WriteRune('i')
				i++
			}
		case r == ',' && !inRegex:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())

	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
