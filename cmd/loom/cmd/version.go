package cmd

import (
	"fmt"
	"runtime"
)

func init() {
	RegisterCommand(&Command{
		Name:  "version",
		Short: "Show version information",
		Long:  `Show the Loom CLI version, build time, and Go runtime version.`,
		Usage: "loom version",
		Run:   runVersion,
	})
}

func runVersion(args []string) error {
	fmt.Printf("Loom CLI version %s (built %s, %s)\n", Version, BuildTime, runtime.Version())
	return nil
}
