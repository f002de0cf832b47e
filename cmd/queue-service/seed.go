package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mamamind47/sfa-queue/internal/config"
	"github.com/mamamind47/sfa-queue/internal/logger"
	"github.com/mamamind47/sfa-queue/internal/queue"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "seed CODE:Name...",
		Short:   "Create or rename services",
		Example: `  queue-service seed A:Finance B:Registrar`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runSeed,
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	st, closeStore, err := openStore(cmd.Context(), cfg, true, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := queue.NewEngine(st, nil, nil, nil, queue.Options{
		Location: cfg.Location(),
		Logger:   logger.WithComponent(log, "queue"),
	})
	return seedServices(cmd.Context(), engine, strings.Join(args, ","), log)
}
