// Package phone converts user-supplied phone numbers into canonical
// digit-only form and into WhatsApp JIDs, and back. All functions are pure.
package phone

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// IndividualSuffix is the JID domain for individual (non-group) chats.
const IndividualSuffix = "@s.whatsapp.net"

// GroupSuffix is the JID domain for group chats, which the flush trigger
// always ignores.
const GroupSuffix = "@g.us"

// Normalize strips separators from an international-format number and
// returns the bare digits. The input must carry a leading "+" after
// separator stripping and contain only digits after the marker.
func Normalize(input string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, input)

	if !strings.HasPrefix(clean, "+") {
		return "", fmt.Errorf("%w: %q must start with +", core.ErrInvalidFormat, input)
	}

	digits := strings.TrimPrefix(clean, "+")
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", core.ErrInvalidFormat, input)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q contains non-digit characters", core.ErrInvalidFormat, input)
		}
	}
	return digits, nil
}

// ToJID maps normalized digits to the individual-chat JID.
func ToJID(digits string) string {
	return digits + IndividualSuffix
}

// JIDToDigits maps an individual-chat JID back to normalized digits.
// Returns ok=false for group, broadcast, and any other non-individual
// address.
func JIDToDigits(jid string) (string, bool) {
	if !strings.HasSuffix(jid, IndividualSuffix) {
		return "", false
	}
	raw := strings.TrimSuffix(jid, IndividualSuffix)
	// Device and agent suffixes (e.g. "1555:12") carry digits before the
	// separator; keep digits only.
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == ':' || r == '.' {
			break
		}
	}
	digits := b.String()
	if digits == "" {
		return "", false
	}
	return digits, true
}

// IsJID reports whether the recipient string is already a JID rather than a
// phone number.
func IsJID(to string) bool {
	return strings.Contains(to, "@")
}

// FoldText lowercases text and strips diacritics and punctuation, for
// keyword matching in the auto-responder.
func FoldText(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from decomposition
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.TrimSpace(b.String())
}
