package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"curiosity/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your curiosity installation",
		Long: `Verifies that the configuration, conversation log, local backup and
providers are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("curiosity doctor v%s\n\n", version)

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d warnings, 1 failed\n", passed, warned)
				return fmt.Errorf("config is invalid")
			}
			printPass("Config validation", "valid")
			passed++

			if err := checkWritableDir(filepath.Dir(cfg.Storage.ConversationPath)); err != nil {
				printFail("Conversation log", err.Error())
				failed++
			} else {
				printPass("Conversation log", cfg.Storage.ConversationPath)
				passed++
			}

			if err := checkDatabase(cfg.Client.BackupPath); err != nil {
				printFail("Local backup", err.Error())
				failed++
			} else {
				printPass("Local backup", cfg.Client.BackupPath)
				passed++
			}

			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if name != "ollama" && p.APIKey == "" {
					printWarn("Provider: "+name, "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				printWarn("Server address", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("Server address", cfg.Server.Addr()+" available")
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
