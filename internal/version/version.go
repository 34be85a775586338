// ABOUTME: Version information for tspd
// ABOUTME: Product identity reported in logs and the CLI -version flag
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.1.0"

const (
	Product      = "tspd"
	Manufacturer = "Resonate"
)

// String returns "<product> <version>"
func String() string {
	return Product + " " + Version
}
