package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tapwave/typingarena/internal/config"
	"github.com/tapwave/typingarena/internal/hub"
	"github.com/tapwave/typingarena/internal/store"
	"github.com/tapwave/typingarena/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "typingarenad",
		Short: "Typing contest platform API daemon",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("state-dir", "/var/lib/typingarena", "directory for the SQLite database")
	f.Int("default-max-attempts", 3, "attempts cap applied to contests that don't set their own")
	f.Int("leaderboard-limit", 100, "default leaderboard row limit")
	f.Int("reap-interval", 30, "seconds between stale-session reaper sweeps")
	f.Int("stale-after-sec", 60, "seconds after contest end before a still-running session is expired")
	f.String("log-level", "info", "structured log level (debug, info, warn, error)")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("addr", "addr")
	bindFlag("state_dir", "state-dir")
	bindFlag("default_max_attempts", "default-max-attempts")
	bindFlag("leaderboard_limit", "leaderboard-limit")
	bindFlag("reap_interval", "reap-interval")
	bindFlag("stale_after_sec", "stale-after-sec")
	bindFlag("log_level", "log-level")

	viper.SetEnvPrefix("TYPINGARENA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Printf("typingarenad %s starting\n", config.Version)
	fmt.Printf("  Addr: %s\n", cfg.Addr)
	fmt.Printf("  State dir: %s\n", cfg.StateDir)
	fmt.Printf("  Default max attempts: %d\n", cfg.DefaultMaxAttempts)
	fmt.Printf("  Leaderboard limit: %d\n", cfg.LeaderboardLimit)
	fmt.Println()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "typingarena.db"), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	sseHub := hub.New()

	server := web.New(&cfg, st, sseHub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runReaper(ctx, st, cfg)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("web server shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// runReaper periodically terminalizes RUNNING sessions whose contest ended
// without an explicit finish (§5, SPEC_FULL.md §C.8 "Contest lifecycle
// reaper").
func runReaper(ctx context.Context, st *store.Store, cfg config.Config) error {
	interval := time.Duration(cfg.ReapInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	staleAfter := time.Duration(cfg.StaleAfterSec) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-staleAfter)
			n, err := st.ExpireStaleSessions(cutoff, time.Now().UTC())
			if err != nil {
				log.Printf("reaper: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("reaper: expired %d stale session(s)", n)
			}
		}
	}
}
