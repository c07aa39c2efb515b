package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemverVersion(t *testing.T) {
	v, err := parseSemverVersion("v1.2.3-beta+build")
	require.NoError(t, err)
	assert.Equal(t, &semverVersion{Major: 1, Minor: 2, Patch: 3}, v)

	for _, bad := range []string{"", "1.2", "1.2.x", "1.-2.3"} {
		_, err := parseSemverVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestMatchesVersionConstraint(t *testing.T) {
	tests := []struct {
		version    string
		constraint string
		want       bool
	}{
		{"1.2.3", "", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "=1.2.4", false},
		{"1.2.3", ">=1.2.0", true},
		{"1.2.3", ">1.2.3", false},
		{"1.2.3", "<2.0.0", true},
		{"1.2.3", "<=1.2.2", false},
		{"1.9.0", "^1.2.0", true},
		{"2.0.0", "^1.2.0", false},
		{"1.2.9", "~1.2.0", true},
		{"1.3.0", "~1.2.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.version+" "+tt.constraint, func(t *testing.T) {
			got, err := matchesVersionConstraint(tt.version, tt.constraint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := matchesVersionConstraint("1.0.0", ">=abc")
	assert.Error(t, err)
}
