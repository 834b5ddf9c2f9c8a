// luminaguardd is the sandbox daemon: it keeps the snapshot pool warm,
// owns the firewall ruleset, and spawns isolated microVMs for agent tasks.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminaguard/luminaguard/internal/config"
	"github.com/luminaguard/luminaguard/internal/firewall"
	"github.com/luminaguard/luminaguard/internal/hypervisor"
	"github.com/luminaguard/luminaguard/internal/lifecycle"
	"github.com/luminaguard/luminaguard/internal/metrics"
	"github.com/luminaguard/luminaguard/internal/registry"
	"github.com/luminaguard/luminaguard/internal/seccomp"
	"github.com/luminaguard/luminaguard/internal/snapshot"
	"github.com/luminaguard/luminaguard/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		configPath    string
		allowDegraded bool
	)

	root := &cobra.Command{
		Use:           "luminaguardd",
		Short:         "MicroVM sandbox daemon for agent task execution",
		Version:       version.Version(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, allowDegraded)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.Flags().BoolVar(&allowDegraded, "allow-degraded", false,
		"permit running without iptables privilege when the host has no sandbox NICs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("luminaguardd: %v", err)
	}
}

func run(ctx context.Context, configPath string, allowDegraded bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	level, err := seccomp.ParseLevel(cfg.SeccompLevel)
	if err != nil {
		return err
	}
	log.Printf("luminaguardd starting (pool=%d, seccomp=%s)", cfg.PoolSize, level)

	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	fw, err := firewall.New()
	if err != nil {
		return fmt.Errorf("init firewall: %w", err)
	}
	// Chains and sockets left by a previous crash.
	fw.CleanupOrphans()
	sweepStaleSockets(cfg.SocketsDir)

	launcher, err := hypervisor.NewLauncher(cfg)
	if err != nil {
		return fmt.Errorf("init hypervisor: %w", err)
	}

	promReg := metrics.NewRegistry()
	m := metrics.NewMetrics(promReg)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(promReg))
			log.Printf("metrics: listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	creator := &launcherCreator{launcher: launcher, cfg: cfg, level: level}
	pool := snapshot.New(creator, reg, cfg.SnapshotsDir, cfg.RefreshInterval, m)
	if adopted, err := pool.Reconcile(); err != nil {
		log.Printf("pool: reconcile: %v", err)
	} else if adopted > 0 {
		log.Printf("pool: adopted %d snapshots from previous run", adopted)
	}
	if pool.Size() < cfg.PoolSize {
		if err := pool.Warmup(ctx, cfg.PoolSize-pool.Size()); err != nil {
			log.Printf("pool: warmup: %v", err)
		}
	}
	go pool.Run(ctx)

	manager := lifecycle.NewManager(lifecycle.WrapLauncher(launcher), fw, pool, cfg, m)
	manager.AllowDegraded = allowDegraded

	pidPath := filepath.Join(cfg.DataDir, "luminaguardd.pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(pidPath)

	log.Printf("luminaguardd ready (pid %d)", os.Getpid())
	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.DestroyAll(shutdownCtx)

	log.Println("luminaguardd stopped")
	return nil
}

// sweepStaleSockets removes vsock socket files from a previous run.
func sweepStaleSockets(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".vsock") {
			log.Printf("removing stale socket %s", e.Name())
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
