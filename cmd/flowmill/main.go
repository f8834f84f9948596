// Command flowmill runs the partition snapshot engine and its operator
// tooling.
//
// Logging:
//   - The base logger is created by the serve command from the loaded configuration
//   - Loggers are passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"os"

	"flowmill/cmd/flowmill/cli"
)

var version = "dev"

func main() {
	root := cli.New(version)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
