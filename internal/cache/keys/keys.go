// Package keys builds the Redis key layout of the cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"
)

const Prefix = "geoq"

// EntryKey addresses the JSON body of one cache entry.
func EntryKey(id string) string {
	return Prefix + ":entry:" + sanitizeForKey(strings.TrimSpace(id))
}

// IndexKey addresses the sorted set of entry ids bucketed in one H3 cell.
func IndexKey(dataType string, res int, cell string) string {
	return fmt.Sprintf("%s:idx:%s:r%d:%s", Prefix, sanitizeForKey(dataType), res, sanitizeForKey(cell))
}

// IndexPattern matches every index key of a data type, or of all types when empty.
func IndexPattern(dataType string) string {
	if dataType == "" {
		return Prefix + ":idx:*"
	}
	return Prefix + ":idx:" + sanitizeForKey(dataType) + ":*"
}

// IDFromEntryKey reverses EntryKey.
func IDFromEntryKey(k string) (string, bool) {
	return strings.CutPrefix(k, Prefix+":entry:")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
