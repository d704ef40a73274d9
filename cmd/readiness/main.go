// Command readiness pings every configured backing service once and exits
// non-zero if any of them is unreachable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/infra"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/logger"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/readiness"
)

const checkTimeout = 30 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Server.IsProduction())
	os.Exit(check(cfg, log))
}

func check(cfg config.Config, log *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	deps, err := infra.Open(ctx, cfg)
	defer func() {
		if cerr := deps.Close(); cerr != nil {
			log.Warn("closing infrastructure", "error", cerr)
		}
	}()
	if err != nil {
		log.Error("opening infrastructure", "error", err)
		return 1
	}

	report := readiness.New(deps.Pingables()).CheckAll(ctx)
	fmt.Println(report.String())
	if !report.Healthy() {
		return 1
	}
	return 0
}
