package stm

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version information for gostm.
const (
	// Version is the current version of the library.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides information about the library build.
type Info struct {
	// Version is the library version string.
	Version string

	// Algorithm names the concurrency control scheme.
	Algorithm string

	// Variants lists the transaction variants a speculative factory moves through.
	Variants []TxnKind
}

// GetInfo returns information about the library.
//
// Example:
//
//	info := stm.GetInfo()
//	fmt.Printf("gostm %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Algorithm: "ownership records with speculative variants",
		Variants:  []TxnKind{LeanMono, LeanFixed, FatMono, FatFixed, FatVariable},
	}
}

// canonical adds the "v" prefix semver expects.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidVersion reports whether v is a semantic version, with or without the
// leading "v".
func ValidVersion(v string) bool {
	return semver.IsValid(canonical(v))
}

// CompareVersion compares two semantic versions like strings.Compare. An invalid
// version is smaller than every valid one.
func CompareVersion(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// Compatible reports whether code written against version required can use this
// library. Before 1.0.0 the minor version must match and the patch level be at
// least the required one; from 1.0.0 on the major version must match and the
// library must not be older.
func Compatible(required string) bool {
	req := canonical(required)
	if !semver.IsValid(req) {
		return false
	}
	current := canonical(Version)
	if semver.Major(req) != semver.Major(current) {
		return false
	}
	if semver.Major(current) == "v0" && semver.MajorMinor(req) != semver.MajorMinor(current) {
		return false
	}
	return semver.Compare(current, req) >= 0
}
