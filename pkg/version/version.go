// Package version holds the build-time version stamp, set via
// -ldflags at release build time (spec §A.5).
package version

import "fmt"

// Version is overridden at build time via:
//
//	go build -ldflags "-X github.com/eidaws/federator-go/pkg/version.Version=v1.2.3"
var Version = "dev"

// Print writes the running binary's version to stdout, used by
// --version.
func Print() {
	fmt.Println(Version)
}
