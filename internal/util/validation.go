package util

import (
	"unicode"
	"unicode/utf8"
)

const MaxSubjectIDLength = 256

// IsValidSubjectID reports whether s can be used as a subject identifier:
// non-empty, at most MaxSubjectIDLength bytes, valid UTF-8 and free of
// control characters.
func IsValidSubjectID(s string) bool {
	if s == "" || len(s) > MaxSubjectIDLength || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
