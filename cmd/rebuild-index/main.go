// Command rebuild-index submits a synchronous index rebuild and waits for
// it to finish. It is intended for operators and cron jobs; the running
// server performs the same rebuild when a request event arrives on the
// bus.
//
// Usage:
//
//	rebuild-index [--type=GROUP] [--timeout=10m]
//
// Without --type every registered entity type is rebuilt.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/avdeenkov/recodehub/internal/app"
	"github.com/avdeenkov/recodehub/internal/config"
	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/index"
)

func main() {
	targetType := flag.String("type", "", "entity type to rebuild (empty rebuilds all)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	a.Start(ctx)

	exec, err := a.Tasks.SubmitSync(ctx, domain.TaskDescriptor{
		Performer:   index.PerformerName,
		IdentityKey: index.PerformerName + ":" + *targetType,
		Parameters:  map[string]string{index.ParamTargetType: *targetType},
	})
	if err != nil {
		logger.Error("rebuild failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if exec.Status != domain.TaskFinished {
		logger.Error("rebuild did not finish",
			slog.String("status", exec.Status.String()),
			slog.String("error", exec.Result["error"]),
		)
		os.Exit(1)
	}

	logger.Info("rebuild finished",
		slog.String("types", exec.Result["types"]),
		slog.String("documents", exec.Result["documents"]),
	)
}
