package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker <task> <branch> <base> <runId> <agentId> <provider> <repoPath>",
	Short:  "Run one agent (started by 'jarules run')",
	Hidden: true,
	// The exit code is the contract; cobra must not add usage or errors.
	DisableFlagParsing: true,
	Run:                runWorker,
}

func runWorker(cmd *cobra.Command, args []string) {
	log.SetPrefix("")
	log.SetOutput(os.Stderr)

	// Missing values are left for worker.Run, which reports them on the
	// protocol when the run and agent ids are known.
	p, err := worker.ParseArgs(args)
	if err != nil && len(args) != worker.NumArgs {
		log.Printf("[worker] %v", err)
		os.Exit(worker.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(worker.Run(ctx, p, worker.Deps{
		NewGenerator: generatorFactory(p.RepoPath),
	}))
}

// generatorFactory resolves a provider id against the config the
// orchestrator pointed us at.
func generatorFactory(repoPath string) func(string) (collab.Generator, error) {
	return func(providerID string) (collab.Generator, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}

		dir := os.Getenv(collab.EnvSignalsDir)
		if dir == "" {
			dir = collab.SignalsDir(repoPath)
		}
		stopSignal, err := collab.NewStopSignal(dir)
		if err != nil {
			log.Printf("[worker] stop signal unavailable: %v", err)
		}

		return collab.FromConfig(cfg, providerID, collab.Options{Stop: stopSignal})
	}
}
