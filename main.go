// nexus - Streaming terminal chat with long-term memory.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/nexus-chat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	cli.Version = fmt.Sprintf("%s (%s)", Version, GitCommit)

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.RenderConditional(cli.ErrorStyle, "Error:"), err)
		os.Exit(1)
	}
}
