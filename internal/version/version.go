package version

// version is the version of rvr.
//
// This value is expected to be set via build-time injection.
var version string

// Version returns the version of rvr.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}
