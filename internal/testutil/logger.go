package testutil

import "github.com/fixwise/fixwise/internal/log"

// QuietLogger returns a logger that discards output, keeping test logs
// readable.
func QuietLogger() log.Logger {
	return log.NewNop()
}
