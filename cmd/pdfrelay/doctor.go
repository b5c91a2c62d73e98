package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pdfrelay/internal/config"
	"pdfrelay/internal/dedup"
	"pdfrelay/internal/extract"
	"pdfrelay/internal/relay"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the pdfrelay setup",
		Long: `Verifies that the configuration, session database, temp directory,
dedup backend and operator port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("pdfrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, warned, failed := 0, 0, 0
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			if _, err := os.Stat(cfgPath); err != nil {
				warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				pass("Config file", cfgPath)
			}

			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config invalid")
			}
			pass("Config validation", "valid")

			if relay.New(relay.Config{Endpoint: cfg.Relay.WebhookURL}).DryRun() {
				warn("Relay webhook", "not configured, payloads will only be logged")
			} else {
				pass("Relay webhook", cfg.Relay.WebhookURL)
			}

			switch cfg.Transport.Kind {
			case "whatsapp":
				if err := checkDatabase(cfg.Transport.WhatsApp.SessionDB); err != nil {
					fail("Session database", err.Error())
				} else {
					pass("Session database", cfg.Transport.WhatsApp.SessionDB)
				}
			case "telegram":
				pass("Telegram token", "configured")
			}

			tempDir := cfg.TempStore.Dir
			if tempDir == "" {
				tempDir = filepath.Join(os.TempDir(), "pdfrelay")
			}
			if err := checkWritableDir(tempDir); err != nil {
				fail("Temp directory", err.Error())
			} else {
				pass("Temp directory", tempDir)
			}

			if cfg.Extractor.TitlePolicyFile != "" {
				if _, err := extract.LoadTitlePolicy(cfg.Extractor.TitlePolicyFile); err != nil {
					fail("Title policy", err.Error())
				} else {
					pass("Title policy", cfg.Extractor.TitlePolicyFile)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, closeFilter, err := dedup.New(ctx, dedup.Options{
				Backend:       cfg.Dedup.Backend,
				RedisAddr:     cfg.Dedup.RedisAddr,
				RedisPassword: cfg.Dedup.RedisPassword,
				RedisDB:       cfg.Dedup.RedisDB,
			}); err != nil {
				fail("Dedup backend", err.Error())
			} else {
				closeFilter()
				pass("Dedup backend", cfg.Dedup.Backend)
			}

			if cfg.API.Enabled {
				if err := checkPort(cfg.API.Host, cfg.API.Port); err != nil {
					warn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.API.Port, err))
				} else {
					pass("API port", fmt.Sprintf(":%d available", cfg.API.Port))
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running pdfrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned == 0 {
				fmt.Printf("\nAll checks passed! pdfrelay is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
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
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
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
