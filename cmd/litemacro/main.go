// Command litemacro runs and manages operator-declared macros.
package main

import "github.com/ourisland/litemacro/internal/cli"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Main(version)
}
