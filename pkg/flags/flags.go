// Package flags provides the common flag set every federator
// subcommand registers (spec §A.5): log level and version printing.
package flags

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/eidaws/federator-go/pkg/version"
)

// Common holds the flags shared by every subcommand.
type Common struct {
	LogLevel     string
	PrintVersion bool
}

// Register adds the common flags to fs. Call ConfigureAndParse after
// fs.Parse (or after cobra has parsed its flags) to act on them.
func Register(fs *pflag.FlagSet) *Common {
	c := &Common{}
	fs.StringVar(&c.LogLevel, "log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	fs.BoolVar(&c.PrintVersion, "version", false, "print version and exit")
	return c
}

// ConfigureAndParse applies the parsed common flags: sets the global
// logrus level and handles -version by printing and exiting.
func (c *Common) ConfigureAndParse() {
	maybePrintVersionAndExit(c.PrintVersion)
	setLogLevel(c.LogLevel)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		version.Print()
		os.Exit(0)
	}
}
