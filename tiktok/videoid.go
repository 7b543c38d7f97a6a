package tiktok

import (
	"regexp"
	"strings"
)

var videoPathRe = regexp.MustCompile(`/video/(\d+)(?:[/?#]|$)`)

// ExtractVideoID returns the numeric id from a share URL such as
// https://www.tiktok.com/@user/video/7234567890123456789. Bare ids and
// anything unrecognised are returned trimmed but otherwise unchanged.
func ExtractVideoID(s string) string {
	s = strings.TrimSpace(s)
	if isDigits(s) {
		return s
	}
	if m := videoPathRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
