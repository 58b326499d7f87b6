// Command lumiod is the Lumio device daemon. It keeps the network up,
// follows voice-channel occupancy through the gateway, and drives the
// indicator strip.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lumio-dev/lumio/internal/config"
	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/daemon"
	"github.com/lumio-dev/lumio/internal/runtime"
	"github.com/lumio-dev/lumio/internal/version"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var deviceName string

	cmd := &cobra.Command{
		Use:           "lumiod",
		Short:         "Lumio presence lamp daemon",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(deviceName)
		},
	}

	cmd.Flags().StringVar(&deviceName, "device", config.DefaultDevice, "device instance name")
	return cmd
}

func runDaemon(deviceName string) error {
	// A .env next to the working directory may carry LUMIO_GATEWAY_TOKEN
	// and friends; its absence is not an error.
	_ = godotenv.Load()

	paths, err := config.EnsureDeviceDirs(deviceName)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(paths.Logs, "daemon.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("[Daemon] lumiod %s starting, device=%s", version.String(), deviceName)

	if err := runtime.WritePIDFile(paths.Lock, os.Getpid()); err != nil {
		return err
	}
	defer runtime.RemovePIDFile(paths.Lock)

	cfg, err := config.LoadFile(paths.Config)
	if err != nil {
		return err
	}

	store, err := configstore.Open(configstore.Options{DeviceName: deviceName})
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("[Daemon] settings store %s (device %s)", store.Path(), store.DeviceName())

	// Restart requests from the portal unwind through the main select so the
	// pid file and log writer are released before the supervisor respawns us.
	lc := runtime.NewLifecycle()

	d, err := daemon.New(daemon.Options{
		Store:  store,
		Config: cfg,
		Restart: func(reason string) {
			log.Printf("[Daemon] restart requested: %s", reason)
			lc.Shutdown()
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Printf("[Daemon] received %s, shutting down", sig)
	case err := <-d.Errors():
		log.Printf("[Daemon] fatal service error: %v", err)
	case <-lc.Done():
		log.Printf("[Daemon] stopping for restart")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Printf("[Daemon] stopped")
	return nil
}
