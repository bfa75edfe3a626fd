package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/uhyunpark/chartreplay/params"
	"github.com/uhyunpark/chartreplay/pkg/util"
)

var (
	envPath string
	verbose bool
)

func jsonOutput(in any) {
	j, err := json.MarshalIndent(in, "", " ")
	if err != nil {
		return
	}
	fmt.Println(string(j))
}

// setup loads configuration and a logger for a command. Logs go to stderr
// only with --verbose so that stdout stays machine readable.
func setup() (params.Config, *zap.SugaredLogger, error) {
	cfg := params.LoadFromEnv(envPath)
	if !verbose {
		return cfg, util.Nop(), nil
	}
	logger, err := util.NewLogger()
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger.Sugar(), nil
}

func main() {
	app := cli.NewApp()
	app.Name = "replayctl"
	app.Usage = "manage candle data and run headless chart replays"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "env",
			Usage:       "path to a .env file (default: ./.env)",
			Destination: &envPath,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "log to stderr",
			Destination: &verbose,
		},
	}
	app.Commands = []*cli.Command{
		importCommand,
		fetchCommand,
		runCommand,
		tradesCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
