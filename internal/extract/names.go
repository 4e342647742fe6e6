package extract

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
)

const fallbackSuffixLen = 8

// SplitPlatform splits an optional platform token off a raw name field. The
// platform rides after the last colon ("alice%20b:XSX"); names themselves
// never contain colons in the log encoding.
func SplitPlatform(raw string) (name, platform string) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], strings.ToUpper(strings.TrimSpace(raw[idx+1:]))
}

// DecodeName URL-decodes a raw display name and normalizes '+' to space.
func DecodeName(raw string) string {
	raw = strings.ReplaceAll(raw, "+", " ")
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}

// NormalizeName returns a usable display name: the decoded name when it is
// meaningful, otherwise a deterministic fallback derived from the player id.
func NormalizeName(decoded, playerID string) string {
	if len(decoded) < 2 || isAllDigits(decoded) {
		return FallbackName(playerID)
	}
	return decoded
}

// FallbackName derives a deterministic display name from a player id:
// "Player" plus an 8-character uppercase token. The token starts with the
// alphanumeric part of the id and is padded from the id's md5 digest so two
// players never collide on short ids.
func FallbackName(playerID string) string {
	token := make([]rune, 0, fallbackSuffixLen)
	for _, r := range strings.ToUpper(playerID) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			token = append(token, r)
		}
		if len(token) == fallbackSuffixLen {
			break
		}
	}

	if len(token) < fallbackSuffixLen {
		sum := md5.Sum([]byte(playerID))
		pad := strings.ToUpper(hex.EncodeToString(sum[:]))
		for _, r := range pad {
			token = append(token, r)
			if len(token) == fallbackSuffixLen {
				break
			}
		}
	}

	return "Player" + string(token)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
