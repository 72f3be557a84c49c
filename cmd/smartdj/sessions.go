package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/smartdj/internal/session/redis"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "List active Spotify sessions on the Redis backend",
	Long: `List users with a live Spotify session. Tokens are never printed.

Only the redis backend can be inspected from outside the server; in-memory
sessions live in the server process (see GET /api/admin/sessions).`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Session.Backend != "redis" {
		fmt.Println("Session backend is in-memory; query GET /api/admin/sessions on the running server.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	if err != nil {
		return err
	}
	defer store.Close()

	active, err := store.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	fmt.Printf("%-28s %-24s %-8s %s\n", "USER", "NAME", "REFRESH", "EXPIRES IN")
	fmt.Println(strings.Repeat("─", 76))
	now := time.Now()
	for _, s := range active {
		v := s.View()
		fmt.Printf("%-28s %-24s %-8t %s\n",
			truncate(v.UserID, 28), truncate(v.DisplayName, 24), v.HasRefreshToken, s.ExpiresIn(now).Round(time.Second))
	}
	return nil
}
