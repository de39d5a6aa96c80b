package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFirmwareVersion(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  FirmwareVersion
		expectErr bool
	}{
		{
			name:     "Plain semver",
			raw:      "1.0.7",
			expected: FirmwareVersion{Raw: "1.0.7", Major: 1, Minor: 0, Patch: 7, Semver: true},
		},
		{
			name:     "Leading v and whitespace",
			raw:      "  v2.3.14 ",
			expected: FirmwareVersion{Raw: "2.3.14", Major: 2, Minor: 3, Patch: 14, Semver: true},
		},
		{
			name:     "Two components",
			raw:      "3.1",
			expected: FirmwareVersion{Raw: "3.1", Major: 3, Minor: 1, Semver: true},
		},
		{
			name:     "Pre-release suffix",
			raw:      "1.2.0-rc.1",
			expected: FirmwareVersion{Raw: "1.2.0-rc.1", Major: 1, Minor: 2, Suffix: "rc.1", Semver: true},
		},
		{
			name:     "Vendor build tag kept verbatim",
			raw:      "esp-idf   5.1 r3",
			expected: FirmwareVersion{Raw: "esp-idf 5.1 r3"},
		},
		{
			name:     "Word starting with v is not a prefix",
			raw:      "vendor-build",
			expected: FirmwareVersion{Raw: "vendor-build"},
		},
		{
			name:      "Empty",
			raw:       "   ",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFirmwareVersion(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestFirmwareVersion_Less(t *testing.T) {
	a, _ := ParseFirmwareVersion("1.0.7")
	b, _ := ParseFirmwareVersion("1.1.0")
	c, _ := ParseFirmwareVersion("nightly")

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
	assert.False(t, a.Less(c))
	assert.False(t, c.Less(a))
}
