package utils

import (
	"strconv"
	"strings"
)

// CompareVersions compares the numeric part of two client version strings
// such as "3.5.1" or "SEB_Win_3.5.1 (x64)". Missing components count as 0.
// Returns 1 if current > target, 0 if equal, -1 if current < target.
func CompareVersions(current, target string) int {
	cur, tgt := versionParts(current), versionParts(target)
	for i := 0; i < len(cur) || i < len(tgt); i++ {
		var a, b int
		if i < len(cur) {
			a = cur[i]
		}
		if i < len(tgt) {
			b = tgt[i]
		}
		switch {
		case a > b:
			return 1
		case a < b:
			return -1
		}
	}
	return 0
}

// MeetsMinimumVersion reports whether current is at least min. An empty
// minimum accepts everything; an unparsable current version is rejected.
func MeetsMinimumVersion(current, min string) bool {
	if strings.TrimSpace(min) == "" {
		return true
	}
	if len(versionParts(current)) == 0 {
		return false
	}
	return CompareVersions(current, min) >= 0
}

// versionParts extracts the first dotted run of digits.
func versionParts(v string) []int {
	start := strings.IndexAny(v, "0123456789")
	if start < 0 {
		return nil
	}
	v = v[start:]
	end := strings.IndexFunc(v, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		v = v[:end]
	}
	var parts []int
	for _, p := range strings.Split(strings.Trim(v, "."), ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		parts = append(parts, n)
	}
	return parts
}
