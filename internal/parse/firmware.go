package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	semverRe = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?(?:[-+]([0-9A-Za-z.\-]+))?$`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// FirmwareVersion holds the structured data parsed from a firmware version string.
type FirmwareVersion struct {
	Raw    string
	Major  int
	Minor  int
	Patch  int
	Suffix string
	Semver bool
}

// String returns the normalized form that gets stored.
func (v FirmwareVersion) String() string {
	return v.Raw
}

// ParseFirmwareVersion normalizes a firmware version reported by a device.
// Leading/trailing whitespace and a leading "v" are removed; inner runs of
// whitespace collapse to one space. Versions of the form
// major.minor[.patch][-suffix] are broken down; anything else is kept
// verbatim with Semver=false, since vendors ship build tags like "esp-idf 5.1 r3".
func ParseFirmwareVersion(raw string) (FirmwareVersion, error) {
	s := strings.TrimSpace(raw)
	s = spaceRe.ReplaceAllString(s, " ")
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}
	if s == "" {
		return FirmwareVersion{}, fmt.Errorf("empty firmware version: %q", raw)
	}

	v := FirmwareVersion{Raw: s}
	m := semverRe.FindStringSubmatch(s)
	if m == nil {
		return v, nil
	}

	// The regex only admits digits; Atoi fails solely on overflow.
	major, err1 := strconv.Atoi(m[1])
	minor, err2 := strconv.Atoi(m[2])
	patch := 0
	var err3 error
	if m[3] != "" {
		patch, err3 = strconv.Atoi(m[3])
	}
	if err1 != nil || err2 != nil || err3 != nil {
		return v, nil
	}

	v.Major, v.Minor, v.Patch, v.Suffix, v.Semver = major, minor, patch, m[4], true
	return v, nil
}

// Less orders two semver firmware versions; non-semver versions never compare less.
func (v FirmwareVersion) Less(o FirmwareVersion) bool {
	if !v.Semver || !o.Semver {
		return false
	}
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}
