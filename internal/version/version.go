// Package version carries the server version and the minimum-CLI gate.
package version

import (
	"github.com/Masterminds/semver/v3"

	"github.com/epam/modular-api/internal/apierr"
)

// Server is the facade version reported in the Modular-Api-Version response
// header and by the version command. Set at build time via -ldflags -X.
var Server = "4.0.0"

// Request and response header names.
const (
	CLIHeader    = "Cli-Version"
	ServerHeader = "Modular-Api-Version"
)

// CheckCLI gates a client by its advertised version. An empty minimum turns
// the gate off. With the gate on, a missing or unparseable advertised version
// is rejected the same way as an outdated one.
func CheckCLI(minimum, advertised string) error {
	if minimum == "" {
		return nil
	}
	floor, err := semver.NewVersion(minimum)
	if err != nil {
		return apierr.Wrap(apierr.KindInternalError, err, "min_cli_version is not a valid version")
	}
	if advertised == "" {
		return apierr.New(apierr.KindUnsupportedClientVersion,
			"client version required, update your client").
			WithDetail("min_version", floor.String())
	}
	got, err := semver.NewVersion(advertised)
	if err != nil {
		return apierr.Newf(apierr.KindUnsupportedClientVersion,
			"unparseable client version %q", advertised).
			WithDetail("min_version", floor.String())
	}
	if got.LessThan(floor) {
		return apierr.Newf(apierr.KindUnsupportedClientVersion,
			"client version %s is below the supported minimum %s", got, floor).
			WithDetail("min_version", floor.String())
	}
	return nil
}
