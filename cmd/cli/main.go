package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/cli"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
	})
	logger.Init(consoleLogger)

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
