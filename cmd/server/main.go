package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/server"
	"github.com/dmitrijs2005/dropbin/internal/server/config"
)

func main() {
	os.Exit(run(context.Background(), config.LoadConfig(), os.Stdout, os.Stderr))
}

// run starts the server and blocks until it stops. It returns the process
// exit code: 2 for an unusable configuration, 1 when startup fails.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	logger, err := logging.NewJSONLogger(stdout, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "dropbin: %v\n", err)
		return 2
	}

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		return 1
	}

	app.Run(ctx)
	return 0
}
