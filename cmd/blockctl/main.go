package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/CharanSaiVaddi/blockctl/internal/config"
)

const defaultConfigPath = "blockctl.json"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "blockctl",
		Usage: "batch mute/block the accounts that favorited a post",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "config file path",
				Value: defaultConfigPath,
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "env file path",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the job engine and its HTTP API",
				Action: serveAction,
			},
			{
				Name:      "start",
				Usage:     "start a job for a post, or add it to the running one",
				ArgsUsage: "<post-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "mute or block",
						Value: "mute",
					},
					&cli.BoolFlag{
						Name:  "threads",
						Usage: "also block the account's threads",
					},
					&cli.StringFlag{
						Name:  "note",
						Usage: "note attached to each account; {sources}, {mode} and {username} are expanded",
					},
				},
				Action: startAction,
			},
			{
				Name:   "stop",
				Usage:  "stop the running job after the current account",
				Action: controlAction("stop"),
			},
			{
				Name:   "force-stop",
				Usage:  "stop the running job and pause the monitor",
				Action: controlAction("force-stop"),
			},
			{
				Name:   "reset",
				Usage:  "drop any stuck job state",
				Action: controlAction("reset"),
			},
			{
				Name:   "status",
				Usage:  "show the running job",
				Action: statusAction,
			},
			{
				Name:  "config",
				Usage: "read or edit the config file",
				Commands: []*cli.Command{
					{
						Name:   "get",
						Usage:  "print the effective config",
						Action: configGetAction,
					},
					{
						Name:      "set",
						Usage:     "set a single key",
						ArgsUsage: "<key> <value>",
						Action:    configSetAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file and overlays the environment.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(cmd.String("env")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configGetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// configSetAction edits the file only; environment overrides are not
// written back.
func configSetAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: blockctl config set <key> <value>")
	}
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(cmd.Args().Get(0), cmd.Args().Get(1)); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println("config saved")
	return nil
}
