package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/transcribomatic/gateway/internal/config"
	"github.com/transcribomatic/gateway/pkg/gate"
)

// SignModelCommand signs an allow-listed model name so clients can request
// it without being able to request anything else.
func SignModelCommand() *cli.Command {
	return &cli.Command{
		Name:      "sign-model",
		Usage:     "Sign an allow-listed model name",
		ArgsUsage: "[model]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write a JS constant file instead of printing only",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String(configFlag))
			if err != nil {
				return err
			}
			if cfg.Secret == "" {
				return fmt.Errorf("signing secret is required (config secret or GATEWAY_SECRET)")
			}

			model := cfg.DefaultModel
			if cmd.Args().Len() > 0 {
				model = cmd.Args().First()
			}

			signer := gate.NewModelSigner(cfg.Secret, cfg.AllowedModels)
			signed, err := signer.Sign(model)
			if err != nil {
				return fmt.Errorf("%w: %s", err, model)
			}

			if out := cmd.String("output"); out != "" {
				js := fmt.Sprintf("// Generated signed model - %s\n// Model: %s\nconst SIGNED_MODEL = '%s';\n",
					time.Now().Format("2006-01-02 15:04:05"), model, signed)
				if err := os.WriteFile(out, []byte(js), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
				fmt.Printf("Wrote signed model to %s\n", out)
			}

			fmt.Printf("Model: %s\n", model)
			fmt.Printf("Signed model: %s\n", signed)
			return nil
		},
	}
}
