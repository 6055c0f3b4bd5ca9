// Package version compares plugin release versions.
//
// Versions are parsed as semantic versions where possible ("1.2", "v1.2.3" and
// "1.2.3-rc.1" are all accepted). Strings that are not valid semver fall back to
// a dotted numeric comparison so that malformed manifest entries still order
// predictably.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// BetaThreshold is the first stable version. Anything below it is a beta.
const BetaThreshold = "1.0.0"

var betaThreshold = semver.MustParse(BetaThreshold)

// Normalize strips surrounding whitespace and a leading "v" from a tag.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	return strings.TrimPrefix(v, "V")
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or greater than b.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(Normalize(a))
	vb, errB := semver.NewVersion(Normalize(b))
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareLoose(a, b)
}

// IsNewer reports whether candidate is strictly greater than current.
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// AtLeast reports whether v is greater than or equal to min.
func AtLeast(v, min string) bool {
	return Compare(v, min) >= 0
}

// IsBeta reports whether v sorts strictly below 1.0.0.
func IsBeta(v string) bool {
	parsed, err := semver.NewVersion(Normalize(v))
	if err != nil {
		return compareLoose(v, BetaThreshold) < 0
	}
	return parsed.LessThan(betaThreshold)
}

// InRange reports whether lower < v <= upper.
func InRange(v, lower, upper string) bool {
	return IsNewer(v, lower) && AtLeast(upper, v)
}

// compareLoose compares dotted numeric strings part by part. Non-numeric parts
// count as zero and missing parts are padded with zero.
func compareLoose(a, b string) int {
	aParts := strings.Split(Normalize(a), ".")
	bParts := strings.Split(Normalize(b), ".")

	maxLen := len(aParts)
	if len(bParts) > maxLen {
		maxLen = len(bParts)
	}

	for i := 0; i < maxLen; i++ {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			_, _ = fmt.Sscanf(aParts[i], "%d", &aNum)
		}
		if i < len(bParts) {
			_, _ = fmt.Sscanf(bParts[i], "%d", &bNum)
		}

		if aNum > bNum {
			return 1
		}
		if aNum < bNum {
			return -1
		}
	}

	return 0
}
