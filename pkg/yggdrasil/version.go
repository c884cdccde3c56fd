package yggdrasil

import (
	"strings"

	"golang.org/x/mod/semver"
)

// CompareVersions orders two package versions. Valid semantic versions
// (with or without a leading "v") compare by precedence and rank above
// anything unparsable; two unparsable versions compare as strings.
func CompareVersions(a, b string) int {
	ca, cb := canonical(a), canonical(b)
	va, vb := semver.IsValid(ca), semver.IsValid(cb)
	switch {
	case va && vb:
		return semver.Compare(ca, cb)
	case va:
		return 1
	case vb:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
