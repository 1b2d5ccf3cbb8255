// Package version holds the release version of the validator binaries.
package version

// Current is the release version, without a "v" prefix. Release builds may override it with
// -ldflags "-X github.com/shpitdev/email-batch-validator/internal/version.Current=x.y.z".
var Current = "0.3.0"

// UserAgent is sent on every API request.
func UserAgent() string {
	return "email-batch-validator/" + Current
}
