// Package mention resolves @handle references and reply targets in inbound
// messages against a registry snapshot. Resolution is a pure function over
// its inputs: unknown tokens are silently ignored (mirroring natural typos),
// matching is exact on the normalized token, never fuzzy.
package mention

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hupe1980/chatmesh/core"
)

// tokenPattern captures @handle style pseudo-mentions. Letters, digits and
// underscore belong to a token; surrounding punctuation and emoji decoration
// fall outside the character class and are stripped by construction.
var tokenPattern = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)

// Set is the ordered, deduplicated result of resolving one message: the
// entity handles addressed by it, with the reply-target handle (if any)
// placed first. First position wins tie-breaks for "primary responder".
type Set struct {
	Handles     []string
	ReplyTarget string
}

// Empty reports whether no entity was addressed.
func (s Set) Empty() bool { return len(s.Handles) == 0 }

// Primary returns the first resolved handle or "".
func (s Set) Primary() string {
	if len(s.Handles) == 0 {
		return ""
	}
	return s.Handles[0]
}

// Contains reports whether the set includes the handle.
func (s Set) Contains(handle string) bool {
	for _, h := range s.Handles {
		if h == handle {
			return true
		}
	}
	return false
}

// Resolve scans text for @token mentions and matches them against the
// snapshot. If replyAuthor identifies an entity (the message replies to a
// line previously authored by it), that handle becomes the reply target and
// is placed first unless already present.
func Resolve(text string, replyAuthor *core.Speaker, snap *core.Snapshot) Set {
	var set Set
	seen := make(map[string]bool)

	for _, match := range tokenPattern.FindAllStringSubmatch(text, -1) {
		handle := strings.ToLower(match[1])
		if seen[handle] {
			continue
		}
		if _, ok := snap.Get(handle); !ok {
			continue
		}
		seen[handle] = true
		set.Handles = append(set.Handles, handle)
	}

	if replyAuthor != nil && replyAuthor.IsEntity() {
		handle := strings.ToLower(replyAuthor.Handle)
		if _, ok := snap.Get(handle); ok {
			set.ReplyTarget = handle
			if !seen[handle] {
				set.Handles = append([]string{handle}, set.Handles...)
			}
		}
	}

	return set
}

// NormalizeName strips emoji and punctuation from a display name, keeping
// letters, digits, underscores and spaces. Gateways use it to map decorated
// webhook author names back to entities.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == ' ' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
