// cmd/tools/device-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"push-dispatch/internal/common/config"
	"push-dispatch/internal/common/database"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
	"push-dispatch/internal/queue"
	"push-dispatch/internal/registry"
)

func main() {
	registerCmd := flag.NewFlagSet("register", flag.ExitOnError)
	lookupCmd := flag.NewFlagSet("lookup", flag.ExitOnError)
	retagCmd := flag.NewFlagSet("retag", flag.ExitOnError)
	deadCmd := flag.NewFlagSet("dead-letters", flag.ExitOnError)

	// Register command flags
	regToken := registerCmd.String("token", "", "Device token")
	regPlatform := registerCmd.String("platform", "", "Platform (ios, android)")
	regTags := registerCmd.String("tags", "", "Comma-separated tags")
	regLocale := registerCmd.String("locale", "", "Locale (defaults to en)")

	// Lookup command flags
	lookupQuery := lookupCmd.String("q", "", "Exact token or token prefix")

	// Retag command flags
	retagToken := retagCmd.String("token", "", "Device token")
	retagAdd := retagCmd.String("add", "", "Comma-separated tags to add")
	retagRemove := retagCmd.String("remove", "", "Comma-separated tags to remove")

	// Dead-letters command flags
	deadLimit := deadCmd.Int64("limit", 20, "Maximum entries to print")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx := context.Background()
	log := logger.NewNoOpLogger()

	cfg, err := config.Load()
	if err != nil {
		fatal("config load failed: %v", err)
	}

	switch os.Args[1] {
	case "register":
		registerCmd.Parse(os.Args[2:])
		if *regToken == "" || *regPlatform == "" {
			fmt.Println("Error: token and platform are required for register.")
			registerCmd.Usage()
			os.Exit(1)
		}
		store := openStore(cfg, log)
		rec := models.DeviceRecord{
			Token:        *regToken,
			Platform:     *regPlatform,
			Tags:         splitList(*regTags),
			Locale:       *regLocale,
			LastActiveAt: time.Now().UTC(),
		}
		if err := store.UpsertByToken(ctx, rec); err != nil {
			fatal("register failed: %v", err)
		}
		fmt.Printf("Registered device: %s\n", *regToken)

	case "lookup":
		lookupCmd.Parse(os.Args[2:])
		if *lookupQuery == "" {
			fmt.Println("Error: -q is required for lookup.")
			lookupCmd.Usage()
			os.Exit(1)
		}
		store := openStore(cfg, log)
		records, err := store.FindByTokenOrPrefix(ctx, *lookupQuery)
		if err != nil {
			fatal("lookup failed: %v", err)
		}
		printJSON(records)

	case "retag":
		retagCmd.Parse(os.Args[2:])
		if *retagToken == "" {
			fmt.Println("Error: token is required for retag.")
			retagCmd.Usage()
			os.Exit(1)
		}
		store := openStore(cfg, log)
		if err := store.PatchTags(ctx, *retagToken, splitList(*retagAdd), splitList(*retagRemove)); err != nil {
			fatal("retag failed: %v", err)
		}
		fmt.Printf("Updated tags for device: %s\n", *retagToken)

	case "dead-letters":
		deadCmd.Parse(os.Args[2:])
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			fatal("redis connection failed: %v", err)
		}
		defer rdb.Close()
		q := queue.New(rdb.Client, cfg.Queue.Name, queue.Options{}, log)
		jobs, err := q.DeadLetters(ctx, *deadLimit)
		if err != nil {
			fatal("dead-letter read failed: %v", err)
		}
		printJSON(jobs)

	default:
		help()
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, log logger.Logger) *registry.Store {
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fatal("postgres connection failed: %v", err)
	}
	return registry.NewStore(pg.DB, log)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fatal(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func help() {
	fmt.Println("Usage: device-admin <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  register      Upsert a device registration")
	fmt.Println("  lookup        Find devices by token or token prefix")
	fmt.Println("  retag         Add/remove tags on a registered device")
	fmt.Println("  dead-letters  Print recent dead-lettered jobs")
}
