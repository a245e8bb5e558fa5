package broker

import "strings"

// MatchSubject reports whether subject matches pattern. Tokens are separated
// by dots; "*" matches exactly one token and a trailing ">" matches one or
// more remaining tokens.
func MatchSubject(pattern, subject string) bool {
	if pattern == "" || pattern == ">" {
		return subject != ""
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// SubjectPrefix returns the first token of a subject.
func SubjectPrefix(subject string) string {
	prefix, _, _ := strings.Cut(subject, ".")
	return prefix
}
