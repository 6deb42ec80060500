// meshd runs the governance service mesh: discovery, failover, sessions,
// monitoring and the admin API, configured from a directory of YAML files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/orchestrator"
)

var (
	configDir string
	mode      string
)

func main() {
	root := &cobra.Command{
		Use:          "meshd",
		Short:        "Client-side service mesh for the constitutional governance platform",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the mesh until interrupted",
		RunE:  run,
	}
	runCmd.Flags().StringVar(&configDir, "config", "./configs", "configuration directory")
	runCmd.Flags().StringVar(&mode, "mode", "", "mode overlay file to apply (development, staging, production, high_availability)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	injector := do.New()
	do.Provide(injector, orchestrator.ProvideConfigLoader(orchestrator.ConfigOptions{
		Dir:  configDir,
		Mode: mode,
	}))
	do.Provide(injector, orchestrator.ProvideLoggerManager)
	do.Provide(injector, orchestrator.ProvideLogger("meshd"))
	do.Provide(injector, orchestrator.ProvideConfig)
	do.Provide(injector, orchestrator.ProvideOrchestrator)

	orch, err := do.Invoke[*orchestrator.Orchestrator](injector)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	log, _ := do.Invoke[*logger.CtxZapLogger](injector)
	if log == nil {
		log = logger.GetLogger("meshd")
	}

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start mesh: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down on signal: " + sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return orch.Stop(stopCtx)
}
