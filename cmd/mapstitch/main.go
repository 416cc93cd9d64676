// Command mapstitch runs one map-stitching session: it loads a prior map,
// ingests a stitch session against it, and writes the merged result back
// out (spec §6's external interfaces, the top-level entrypoint around
// package stitch).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/viam-labs/map-stitch/config"
	"github.com/viam-labs/map-stitch/logging"
	"github.com/viam-labs/map-stitch/stitch"
)

func main() {
	app := &cli.App{
		Name:  "mapstitch",
		Usage: "stitch a LiDAR session onto a prior map's pose graph",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prior", Required: true, Usage: "prior map session directory"},
			&cli.StringFlag{Name: "stitch", Required: true, Usage: "stitch session directory"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "output session directory"},
			&cli.StringFlag{Name: "config", Usage: "YAML or JSON config file (defaults applied otherwise)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := logging.LevelFromString(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := logging.NewLogger("mapstitch", level)
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	cfg.Validate(logger)

	rc, err := stitch.LoadPrior(c.String("prior"), cfg, logger)
	if err != nil {
		return err
	}

	if err := rc.Run(context.Background(), c.String("stitch"), c.String("out")); err != nil {
		return err
	}
	logger.Infow("stitching run complete", "run_id", rc.RunID, "out", c.String("out"))
	return nil
}

func loadConfig(path string) (*config.StitchConfig, error) {
	if path == "" {
		cfg := config.Defaults()
		return &cfg, nil
	}
	return config.Load(path)
}
