// Package cmd defines the gateway command tree.
package cmd

import (
	"github.com/urfave/cli/v3"
)

const configFlag = "config"

// RootCommand builds the top-level gateway command.
func RootCommand() *cli.Command {
	return &cli.Command{
		Name:            "gateway",
		Usage:           "Token-gated proxy for upstream AI sessions with weekly spend caps",
		HideHelpCommand: true,
		DefaultCommand:  "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  configFlag,
				Usage: "Path to the YAML config file",
				Value: "gateway.yaml",
			},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			GenTokensCommand(),
			SignModelCommand(),
		},
	}
}
