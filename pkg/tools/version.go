package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// semverVersion is a parsed major.minor.patch version. Pre-release and
// build suffixes are accepted and ignored for ordering.
type semverVersion struct {
	Major int
	Minor int
	Patch int
}

func parseSemverVersion(version string) (*semverVersion, error) {
	core := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid version format %q: expected major.minor.patch", version)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version component %q in %q", part, version)
		}
		nums[i] = n
	}

	return &semverVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// compare returns -1, 0 or 1.
func (v *semverVersion) compare(other *semverVersion) int {
	for _, d := range [3]int{v.Major - other.Major, v.Minor - other.Minor, v.Patch - other.Patch} {
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
	}
	return 0
}

// constraintOps is ordered so two-character operators match first.
var constraintOps = []string{">=", "<=", ">", "<", "^", "~", "="}

// matchesVersionConstraint reports whether version satisfies constraint.
// Supported forms: "1.0.0", "=1.0.0", ">=", ">", "<=", "<", "^1.0.0"
// (same major) and "~1.0.0" (same major.minor). An empty constraint
// matches everything.
func matchesVersionConstraint(version, constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true, nil
	}

	op := "="
	for _, candidate := range constraintOps {
		if strings.HasPrefix(constraint, candidate) {
			op = candidate
			constraint = strings.TrimSpace(constraint[len(candidate):])
			break
		}
	}

	v, err := parseSemverVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}
	cv, err := parseSemverVersion(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint version: %w", err)
	}

	cmp := v.compare(cv)
	switch op {
	case "=":
		return cmp == 0, nil
	case ">=":
		return cmp >= 0, nil
	case ">":
		return cmp > 0, nil
	case "<=":
		return cmp <= 0, nil
	case "<":
		return cmp < 0, nil
	case "^":
		return v.Major == cv.Major && cmp >= 0, nil
	case "~":
		return v.Major == cv.Major && v.Minor == cv.Minor && cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown version constraint operator %q", op)
}
