package version

import (
	"github.com/blang/semver"
)

//	Message shapes this client sends and expects back
var EXPECTED_PROTOCOL_VERSION = semver.MustParse("4.0.0")

//	Servers predating the version field in the connect reply speak this
var LEGACY_PROTOCOL_VERSION = semver.MustParse("2.0.0")

//	ServerVersion returns the version a connect reply announces, assuming the
//	legacy version when the field is absent.
func ServerVersion(reported *string) string {
	if reported == nil || *reported == "" {
		return LEGACY_PROTOCOL_VERSION.String()
	}
	return *reported
}

//	Compatible reports whether a server version is exactly the expected
//	protocol. Partial versions, a "v" prefix and build metadata all count as
//	a mismatch.
func Compatible(serverVersion string) bool {
	parsed, err := semver.Parse(serverVersion)
	if err != nil {
		return false
	}
	return parsed.Equals(EXPECTED_PROTOCOL_VERSION) && len(parsed.Build) == 0
}
