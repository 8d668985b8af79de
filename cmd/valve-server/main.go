// Valve Server
// Opens irrigation valves when a sensor trend crosses a threshold and closes
// them after a fixed duration
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agsys/valve-server/internal/engine"
	"github.com/agsys/valve-server/internal/link"
	"github.com/agsys/valve-server/internal/metrics"
)

const version = "0.1.0"

var (
	configFile string
	roleFlag   string
	addrFlag   string

	rootCmd = &cobra.Command{
		Use:   "valve-server",
		Short: "Trend-driven valve server",
		Long:  "Valve server for the border router. Watches sensor trends and drives valve open/close commands.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the valve server",
		RunE:  runServer,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Valve Server v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/agsys/valve-server.yaml", "Configuration file path")
	runCmd.Flags().StringVar(&roleFlag, "role", "", "Transport role: connect or listen (overrides config)")
	runCmd.Flags().StringVar(&addrFlag, "address", "", "Border router address (overrides config)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// A missing default config file means run on defaults
	cfg := &Config{}
	if _, err := os.Stat(configFile); err == nil || cmd.Flags().Changed("config") {
		loaded, err := loadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if roleFlag != "" {
		cfg.Transport.Role = roleFlag
	}
	if addrFlag != "" {
		cfg.Transport.Address = addrFlag
	}

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	engineCfg, linkCfg, err := buildConfigs(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Starting Valve Server v%s (%s %s)", version, linkCfg.Role, linkCfg.Address)
	eng.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return link.New(linkCfg).Run(gctx, eng.RunSession)
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return metrics.NewServer(cfg.Metrics.Addr, eng).Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Server error: %v", err)
	}

	// Stop engine
	if stopErr := eng.Stop(); stopErr != nil {
		log.Printf("Error during shutdown: %v", stopErr)
	}

	log.Println("Shutdown complete")
	return err
}
