// Package moduleid parses and compares module ids of the form
// "name-semver[-prerelease][+build]". The comparator mirrors the numeric-code contract
// (`0..4`) that org.folio.okapi.common.ModuleId.compare exposes, since
// several call sites in the original core branch directly on that code
// (e.g. "compare(a,b) >= 4" meaning strictly newer).
package moduleid

import (
	"sort"
	"strconv"
	"strings"
)

// Compare result codes, matching the source contract exactly.
const (
	Less          = 0 // a < b
	LessOrEqual   = 1 // a <= b (reserved; unused by this core, kept for contract parity)
	Equal         = 2 // a == b
	GreaterOrEqual = 3 // reserved; unused by this core, kept for contract parity
	Greater       = 4 // a > b
)

// ID is a parsed module id: name, semver release, optional prerelease and
// build metadata.
type ID struct {
	Name       string
	Version    [3]int // major, minor, patch
	Prerelease string
	Build      string
	raw        string
}

// Parse splits a module id of the form "name-major.minor.patch[-pre][+build]"
// into its components. The module name is everything up to the last "-"
// segment that parses as a semver triple; this mirrors the source's
// right-to-left scan so names containing hyphens (e.g. "okapi-facade")
// parse correctly.
func Parse(id string) ID {
	parsed := ID{raw: id}
	build := ""
	rest := id
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		build = rest[i+1:]
		rest = rest[:i]
	}
	parsed.Build = build

	// Find the last hyphen-separated segment that looks like a semver core
	// (digits and dots), scanning from the right so names may contain
	// hyphens themselves.
	segs := strings.Split(rest, "-")
	verIdx := -1
	for i := len(segs) - 1; i >= 0; i-- {
		if looksLikeSemverCore(segs[i]) {
			verIdx = i
			break
		}
	}
	if verIdx < 0 {
		parsed.Name = rest
		return parsed
	}
	parsed.Name = strings.Join(segs[:verIdx], "-")
	parsed.Version = parseSemverCore(segs[verIdx])
	if verIdx+1 < len(segs) {
		parsed.Prerelease = strings.Join(segs[verIdx+1:], "-")
	}
	return parsed
}

func looksLikeSemverCore(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

func parseSemverCore(s string) [3]int {
	var v [3]int
	for i, p := range strings.SplitN(s, ".", 3) {
		n, _ := strconv.Atoi(p)
		v[i] = n
	}
	return v
}

// Compare returns the 0..4 code describing the relation of a to b: modules
// are ordered first by Name, then by semver triple, then a release is
// newer than any of its prereleases, then prerelease strings compare
// lexicographically. Build metadata never affects ordering.
func Compare(a, b string) int {
	pa, pb := Parse(a), Parse(b)
	if pa.Name != pb.Name {
		if pa.Name < pb.Name {
			return Less
		}
		return Greater
	}
	return compareVersion(pa, pb)
}

// compareVersion is Compare without the Name step: semver triple, then
// release over prerelease, then prerelease strings lexicographically.
func compareVersion(pa, pb ID) int {
	if c := compareTriple(pa.Version, pb.Version); c != 0 {
		if c < 0 {
			return Less
		}
		return Greater
	}
	switch {
	case pa.Prerelease == "" && pb.Prerelease == "":
		return Equal
	case pa.Prerelease == "":
		return Greater // release beats any prerelease
	case pb.Prerelease == "":
		return Less
	case pa.Prerelease == pb.Prerelease:
		return Equal
	case pa.Prerelease < pb.Prerelease:
		return Less
	default:
		return Greater
	}
}

func compareTriple(a, b [3]int) int {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] - b[i]
		}
	}
	return 0
}

// SameMajor reports whether a and b share the same module Name and major
// version component.
func SameMajor(a, b string) bool {
	pa, pb := Parse(a), Parse(b)
	return pa.Name == pb.Name && pa.Version[0] == pb.Version[0]
}

// Latest returns the id in candidates with the highest version (semver
// triple, then release over prerelease; module names are not compared),
// breaking ties by full id string ascending. Returns "" for an empty
// candidate set.
func Latest(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		c := compareVersion(Parse(sorted[i]), Parse(sorted[j]))
		if c != Equal {
			return c == Greater
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0]
}
