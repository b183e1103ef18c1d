package watching

import "strings"

// MentionsLogin reports whether text contains "@login" as a whole handle:
// the '@' must not follow a word character (so e-mail addresses do not count)
// and the handle must not continue with a login character, so "@user" does
// not match "@user2" or "@username". Matching is ASCII case-insensitive.
func MentionsLogin(text, login string) bool {
	if login == "" || text == "" {
		return false
	}
	return findHandle(strings.ToLower(text), "@"+strings.ToLower(login))
}

// MentionsTeam reports whether text mentions the team as "@slug" or
// "@org/slug". An "org/slug" argument is reduced to its slug.
func MentionsTeam(text, team string) bool {
	slug := strings.ToLower(TeamHandle(team))
	if slug == "" || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	if findHandle(lower, "@"+slug) {
		return true
	}
	return findOrgHandle(lower, slug)
}

// findHandle scans for needle with boundary checks on both sides.
func findHandle(text, needle string) bool {
	for i := 0; i <= len(text)-len(needle); {
		j := strings.Index(text[i:], needle)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(needle)
		if (start == 0 || !isWordByte(text[start-1])) &&
			(end == len(text) || !isHandleByte(text[end])) {
			return true
		}
		i = start + 1
	}
	return false
}

// findOrgHandle matches "@<org>/<slug>" for any non-empty org.
func findOrgHandle(text, slug string) bool {
	needle := "/" + slug
	for i := 0; i <= len(text)-len(needle); {
		j := strings.Index(text[i:], needle)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(needle)
		i = start + 1
		if end < len(text) && isHandleByte(text[end]) {
			continue
		}
		k := start
		for k > 0 && isHandleByte(text[k-1]) && text[k-1] != '_' {
			k--
		}
		if k == start || k == 0 || text[k-1] != '@' {
			continue
		}
		if k-1 == 0 || !isWordByte(text[k-2]) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

func isHandleByte(b byte) bool {
	return b == '-' || isWordByte(b)
}
