package transport

import "unicode/utf8"

// DefaultTextLimit is the largest text payload (bytes) a single mesh packet carries.
const DefaultTextLimit = 200

// SplitText splits s into chunks of at most limit bytes without breaking
// UTF-8 sequences. It prefers newline boundaries when the chunk stays reasonably large.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = DefaultTextLimit
	}
	if len(s) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(s)+limit-1)/limit)
	for len(s) > limit {
		end := limit
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			// A single rune wider than limit; emit it whole.
			_, size := utf8.DecodeRuneInString(s)
			end = size
		}

		cut := -1
		for i := end - 1; i > 0; i-- {
			if s[i] == '\n' {
				if i >= limit/3 {
					cut = i + 1
				}
				break
			}
		}
		if cut > 0 {
			end = cut
		}

		out = append(out, s[:end])
		s = s[end:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
