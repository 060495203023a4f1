package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/config"
	"github.com/nextlevelbuilder/agentscope/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentscope doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Storage:")
	fmt.Printf("    %-12s %s\n", "Dir:", cfg.StoragePath())
	db, err := sqlite.Open(cfg.StoragePath())
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if pingErr := db.Ping(ctx); pingErr != nil {
			fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", pingErr)
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
		}
	}

	fmt.Println()
	fmt.Println("  Cache:")
	fmt.Printf("    %-12s %s\n", "URL:", cfg.Cache.URL)
	redisClient, err := cache.NewRedis(cache.RedisConfig{
		URL:            cfg.Cache.URL,
		CommandTimeout: time.Duration(cfg.Cache.CommandTimeoutMS) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.Cache.ConnectTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		fmt.Printf("    %-12s INVALID URL (%s)\n", "Status:", err)
		return
	}
	defer redisClient.Close()

	monitor := cache.NewMonitor(redisClient, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	if probeErr := monitor.Probe(ctx); probeErr != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", probeErr)
		fmt.Printf("    %-12s the server falls back to SQLite-only mode\n", "Note:")
	} else {
		fmt.Printf("    %-12s OK (%dms, all primitives verified)\n", "Status:", time.Since(start).Milliseconds())
	}
	fmt.Printf("    %-12s %s\n", "Breaker:", redisClient.Breaker().State())
}
