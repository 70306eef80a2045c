package feature

import (
	"fmt"
	"strings"
	"unicode"
)

// ColumnKey derives a SQL-safe key from a human feature name: lower-cased,
// runs of non-alphanumerics collapsed to single underscores, and a leading
// digit prefixed with "f_".
func ColumnKey(name string) string {
	var b strings.Builder

	lastUnderscore := false

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}

		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	key := strings.Trim(b.String(), "_")
	if key == "" {
		return "feature"
	}

	if key[0] >= '0' && key[0] <= '9' {
		key = "f_" + key
	}

	return key
}

// DedupeKeys makes every key unique within a batch by appending numeric
// suffixes to later duplicates.
func DedupeKeys(keys []string) []string {
	seen := make(map[string]int, len(keys))
	out := make([]string, len(keys))

	for i, key := range keys {
		seen[key]++
		if seen[key] == 1 {
			out[i] = key
			continue
		}

		// Walk forward until the suffixed key is itself free.
		for {
			candidate := fmt.Sprintf("%s_%d", key, seen[key])
			if seen[candidate] == 0 {
				seen[candidate]++
				out[i] = candidate
				break
			}
			seen[key]++
		}
	}

	return out
}
