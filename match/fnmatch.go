package match

import "regexp"

// fnMatch implements shell-style glob matching (*, ?, [set]) against an
// arbitrary string, including one containing '/' — job and instance IDs are
// free-form tokens that may contain path separators, so the standard
// library's path.Match (which treats '/' specially and errors on dangling
// brackets) is not a fit here. This is a small iterative matcher, not a regex
// translation, so malformed patterns (e.g. an unterminated '[') degrade to
// literal matching of '[' rather than failing.
func fnMatch(pattern, value string) bool {
	return fnMatchAt(pattern, value)
}

func fnMatchAt(pattern, value string) bool {
	// Standard backtracking glob match: pi/vi walk the pattern/value, with
	// starIdx/matchIdx recording the most recent '*' for backtracking.
	pi, vi := 0, 0
	starIdx, matchIdx := -1, -1

	for vi < len(value) {
		if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			matchIdx = vi
			pi++
			continue
		}
		if pi < len(pattern) && matchSingle(pattern, &pi, value[vi]) {
			vi++
			continue
		}
		if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			vi = matchIdx
			continue
		}
		return false
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// matchSingle tests whether pattern[*pi] (a literal, '?' or '[set]') matches
// c, advancing *pi past the consumed pattern token on success. On failure it
// leaves *pi untouched other than what was needed to inspect the token.
func matchSingle(pattern string, pi *int, c byte) bool {
	switch pattern[*pi] {
	case '?':
		*pi++
		return true
	case '[':
		end := *pi + 1
		negate := end < len(pattern) && (pattern[end] == '!' || pattern[end] == '^')
		if negate {
			end++
		}
		start := end
		for end < len(pattern) && pattern[end] != ']' {
			end++
		}
		if end >= len(pattern) {
			// Unterminated set: treat '[' as a literal.
			if c == '[' {
				*pi++
				return true
			}
			return false
		}
		set := pattern[start:end]
		matched := matchesSet(set, c)
		if negate {
			matched = !matched
		}
		if matched {
			*pi = end + 1
			return true
		}
		return false
	default:
		if pattern[*pi] == c {
			*pi++
			return true
		}
		return false
	}
}

func matchesSet(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if i+2 < len(set) && set[i+1] == '-' {
			if set[i] <= c && c <= set[i+2] {
				return true
			}
			i += 2
			continue
		}
		if set[i] == c {
			return true
		}
	}
	return false
}

// partialMatch treats pattern as a regular expression and reports whether
// it is found anywhere within value (substring search). An invalid pattern
// never matches rather than panicking.
func partialMatch(pattern, value string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
