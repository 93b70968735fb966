package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldpad/syncengine/internal/adapter"
	"github.com/fieldpad/syncengine/internal/client"
	"github.com/fieldpad/syncengine/internal/config"
	"github.com/fieldpad/syncengine/internal/logger"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewAgentLogger("syncagent")
	cfg, err := config.GetEngineConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	app, err := client.NewApp(cfg, client.Options{
		Tokens: adapter.StaticToken(os.Getenv("SYNCENGINE_TOKEN")),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init sync agent error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)

	<-ctx.Done()
	if err = app.Stop(); err != nil {
		log.Fatal().Err(err).Msg("sync agent shutdown error")
	}
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
