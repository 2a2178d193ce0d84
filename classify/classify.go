// Package classify maps raw feed entries to their message classification:
// patch, reply, series member or cover letter, plus series linkage.
// Classification is a pure function of the entry's subject and threading
// headers, so re-classifying the same entry always yields the same result.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/patchlore/patchlore/helpers"
)

// Unknown marks an absent patch index or total.
const Unknown = -1

// PatchInfo describes what was parsed out of a patch subject tag.
type PatchInfo struct {
	IsPatch       bool
	Version       int // N in [PATCH vN], Unknown when absent
	Index         int // n in [PATCH n/m], Unknown when absent
	Total         int // m in [PATCH n/m], Unknown when absent
	IsCoverLetter bool
}

// Classification is the result of classifying one feed entry.
type Classification struct {
	IsPatch       bool
	IsReply       bool
	IsSeriesPatch bool
	IsCoverLetter bool
	Patch         PatchInfo
	// SeriesMessageID is the message id of the series' cover letter: the
	// entry's own id for a cover letter, the In-Reply-To target for a
	// series member. Empty when linkage cannot be determined yet; the
	// aggregator reconciles those later.
	SeriesMessageID string
}

var (
	bracketTagRe = regexp.MustCompile(`(?i)\[([^\]]*PATCH[^\]]*)\]`)
	versionRe    = regexp.MustCompile(`(?i)\bv(\d+)\b`)
	indexTotalRe = regexp.MustCompile(`\b(\d+)/(\d+)\b`)
)

// ParsePatchSubject parses the bracketed patch tag out of a subject.
// Supported shapes include "[PATCH] x", "[PATCH v5] x", "[PATCH 1/4] x",
// "[RFC PATCH v2 3/5] x", "[for-linus][PATCH 0/2] x" and "patch: x".
// Malformed index/total markers degrade to a plain patch.
func ParsePatchSubject(subject string) PatchInfo {
	info := PatchInfo{Version: Unknown, Index: Unknown, Total: Unknown}

	lowered := strings.ToLower(subject)
	hasKeyword := (strings.Contains(lowered, "patch") && strings.Contains(lowered, "[")) ||
		strings.HasPrefix(lowered, "patch:")
	if !hasKeyword {
		return info
	}
	info.IsPatch = true

	m := bracketTagRe.FindStringSubmatch(subject)
	if m == nil {
		return info
	}
	tag := m[1]

	if vm := versionRe.FindStringSubmatch(tag); vm != nil {
		if v, err := strconv.Atoi(vm[1]); err == nil {
			info.Version = v
		}
	}

	if im := indexTotalRe.FindStringSubmatch(tag); im != nil {
		index, errI := strconv.Atoi(im[1])
		total, errT := strconv.Atoi(im[2])
		if errI != nil || errT != nil {
			// Overflow or garbage: keep the patch, drop the series marker.
			return info
		}
		info.Index = index
		info.Total = total
		info.IsCoverLetter = index == 0
	}

	return info
}

// Classify produces the classification for a feed entry.
//
// A patch is recognized by the bracketed subject tag convention; a series
// member additionally carries an n/m marker with m > 1; n == 0 denotes the
// cover letter. A reply is recognized by a non-self-referential In-Reply-To
// header, independent of the subject. A "Re:"-prefixed subject never counts
// as a new patch posting.
func Classify(subject, inReplyToHeader, messageIDHeader string) Classification {
	c := Classification{Patch: PatchInfo{Version: Unknown, Index: Unknown, Total: Unknown}}

	ownID := helpers.CleanMessageID(messageIDHeader)
	replyTo := helpers.CleanMessageID(inReplyToHeader)
	if replyTo != "" && replyTo != ownID {
		c.IsReply = true
	}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return c
	}

	info := ParsePatchSubject(subject)
	if !info.IsPatch {
		return c
	}
	c.IsPatch = true
	c.Patch = info

	if info.Total == Unknown || info.Total <= 1 {
		// Single patch, possibly a malformed series marker.
		c.Patch.IsCoverLetter = false
		return c
	}

	if info.Index == 0 || info.Index == Unknown {
		// The 0/m (or index-less) head of an m>1 series introduces it.
		c.IsCoverLetter = true
		c.Patch.IsCoverLetter = true
		c.SeriesMessageID = ownID
		return c
	}

	c.IsSeriesPatch = true
	c.SeriesMessageID = replyTo
	return c
}
