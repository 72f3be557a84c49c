package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/smartdj/internal/storage"
	"github.com/michaelbrown/smartdj/internal/storage/sqlite"
)

var (
	userFlag     string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Inspect recorded chat turns",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded turns",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <turn-id>",
	Short: "Show one turn with its actions and results",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a user's turns as markdown or JSON",
	RunE:  runHistoryExport,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every turn of a user",
	RunE:  runHistoryDelete,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count dispatched actions by kind and status",
	RunE:  runHistoryStats,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyDeleteCmd, historyStatsCmd)

	historyCmd.PersistentFlags().StringVar(&userFlag, "user", "", "Spotify user id")
	historyListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max turns to show")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	historyDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func requireUser() error {
	if userFlag == "" {
		return errors.New("--user is required")
	}
	return nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.ListTurns(context.Background(), storage.TurnListOptions{UserID: userFlag, Limit: limitFlag})
	if err != nil {
		return err
	}

	if len(turns) == 0 {
		fmt.Println("No turns found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-16s %-40s %-20s %s\n", "ID", "USER", "MESSAGE", "ACTIONS", "WHEN")
	fmt.Println(strings.Repeat("─", 100))

	for _, t := range turns {
		fmt.Printf("%-10s %-16s %-40s %-20s %s\n",
			shortID(t.ID), truncate(t.UserID, 16), truncate(t.Message, 38), outcomeSummary(t), timeAgo(t.CreatedAt))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := store.GetTurn(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Turn:     %s\n", t.ID)
	fmt.Printf("User:     %s\n", t.UserID)
	if t.Persona != "" {
		fmt.Printf("Persona:  %s\n", t.Persona)
	}
	if t.Failure != "" {
		fmt.Printf("Failure:  %s\n", t.Failure)
	}
	fmt.Printf("Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Println(strings.Repeat("─", 60))

	fmt.Printf("\n\033[36myou>\033[0m %s\n", t.Message)
	fmt.Printf("\033[32mdj>\033[0m %s\n", t.Reply)
	for _, o := range t.Outcomes {
		mark := "\033[33m⚡"
		if o.Status != "ok" {
			mark = "\033[31m✗"
		}
		fmt.Printf("  %s %s %s\033[0m\n", mark, o.Kind, o.Detail)
	}

	if len(t.Results) > 0 && string(t.Results) != "[]" {
		var pretty any
		if json.Unmarshal(t.Results, &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "  ", "  ")
			fmt.Printf("\nResults:\n  %s\n", out)
		}
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.ListTurns(context.Background(), storage.TurnListOptions{UserID: userFlag})
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(userFlag, turns)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(userFlag, turns)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if !forceFlag {
		fmt.Printf("Delete all turns of %s? [y/N] ", userFlag)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	n, err := store.DeleteTurns(context.Background(), userFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d turn(s)\n", n)
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.ActionStats(context.Background(), userFlag)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("No actions recorded.")
		return nil
	}

	fmt.Printf("%-20s %-8s %s\n", "ACTION", "STATUS", "COUNT")
	fmt.Println(strings.Repeat("─", 36))
	for _, s := range stats {
		fmt.Printf("%-20s %-8s %d\n", s.Kind, s.Status, s.Count)
	}
	return nil
}

func outcomeSummary(t storage.Turn) string {
	if t.Failure != "" && len(t.Outcomes) == 0 {
		return "(" + t.Failure + ")"
	}
	if len(t.Outcomes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(t.Outcomes))
	for _, o := range t.Outcomes {
		p := o.Kind
		if o.Status != "ok" {
			p += "!"
		}
		parts = append(parts, p)
	}
	return truncate(strings.Join(parts, ","), 20)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + ".."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
