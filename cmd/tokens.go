package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/transcribomatic/gateway/internal/config"
	"github.com/transcribomatic/gateway/pkg/gate"
)

const accountIDLength = 10

// GenTokensCommand batch-generates account ids with their manage and user
// token URLs, for handing out new accounts.
func GenTokensCommand() *cli.Command {
	return &cli.Command{
		Name:      "gen-tokens",
		Usage:     "Generate management and user token pairs",
		ArgsUsage: "<count>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String(configFlag))
			if err != nil {
				return err
			}
			if cfg.Secret == "" {
				return fmt.Errorf("signing secret is required (config secret or GATEWAY_SECRET)")
			}

			count := 1
			if cmd.Args().Len() > 0 {
				count, err = strconv.Atoi(cmd.Args().First())
				if err != nil || count <= 0 {
					return fmt.Errorf("invalid count %q", cmd.Args().First())
				}
			}

			codec := gate.NewCodec(cfg.Secret)
			for i := 1; i <= count; i++ {
				id := gate.NewShortID(accountIDLength)
				manageToken := codec.Issue(id, gate.ScopeManage)
				userToken := codec.Issue(id, gate.ScopeUser)

				fmt.Printf("Token set %d:\n", i)
				fmt.Printf("  User ID: %s\n", id)
				if cfg.BaseURL != "" {
					fmt.Printf("  Management URL: %s/v1/account?token=%s\n", cfg.BaseURL, url.QueryEscape(manageToken))
					fmt.Printf("  User URL: %s/?token=%s\n", cfg.BaseURL, url.QueryEscape(userToken))
				} else {
					fmt.Printf("  Management token: %s\n", manageToken)
					fmt.Printf("  User token: %s\n", userToken)
				}
				fmt.Println()
			}

			fmt.Println("Share the management URLs to set up accounts; users get their personal URLs from the management endpoint.")
			return nil
		},
	}
}
