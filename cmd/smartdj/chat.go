package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/spotify"
	"github.com/michaelbrown/smartdj/internal/storage"
	"github.com/michaelbrown/smartdj/internal/storage/sqlite"
)

var (
	tokenFlag     string
	noHistoryFlag bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the DJ from the terminal",
	Long: `Start an interactive session with the Smart DJ.

A Spotify access token is required: pass --token or set SPOTIFY_ACCESS_TOKEN.
Your listening context is loaded once at startup; use /context to reload it.

Examples:
  smartdj chat
  smartdj chat --persona energetic
  SPOTIFY_ACCESS_TOKEN=... smartdj chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&tokenFlag, "token", "", "Spotify access token (default $SPOTIFY_ACCESS_TOKEN)")
	chatCmd.Flags().BoolVar(&noHistoryFlag, "no-history", false, "Do not record turns in the history database")
	rootCmd.AddCommand(chatCmd)
}

// chatSession is the REPL state.
type chatSession struct {
	engine  *dj.Engine
	gateway *spotify.Client
	history storage.Store
	token   string
	persona string
	lc      dj.ListeningContext
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OpenAI.APIKey == "" {
		return errors.New("openai.api_key is not set (SMARTDJ_OPENAI_API_KEY)")
	}

	token := tokenFlag
	if token == "" {
		token = os.Getenv("SPOTIFY_ACCESS_TOKEN")
	}
	if token == "" {
		return errors.New("a Spotify access token is required (--token or SPOTIFY_ACCESS_TOKEN)")
	}

	gateway := newGateway(cfg)
	engine, err := newEngine(cfg, gateway)
	if err != nil {
		return err
	}

	cs := &chatSession{engine: engine, gateway: gateway, token: token, persona: personaFlag}

	if !noHistoryFlag {
		store, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("history disabled")
		} else {
			defer store.Close()
			cs.history = store
		}
	}

	fmt.Printf("Smart DJ - Interactive Chat\n")
	fmt.Printf("Model: %s\n", cfg.OpenAI.Model)
	if err := cs.loadContext(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "smartdj_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active request, not the whole app.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := cs.handleCommand(input); quit {
				return nil
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel
		cs.turn(reqCtx, input)
		cancel()
		reqCancel = nil
	}
}

func (cs *chatSession) loadContext(ctx context.Context) error {
	profile, err := cs.gateway.CurrentUser(ctx, cs.token)
	if err != nil {
		return fmt.Errorf("loading Spotify profile: %w", err)
	}
	lc, err := dj.LoadContext(ctx, cs.gateway, cs.token, *profile)
	if err != nil {
		return err
	}
	cs.lc = lc
	fmt.Printf("Listening context: %s (%d playlists, %d top tracks, %d recent)\n",
		profile.DisplayName, len(lc.Playlists), len(lc.TopTracks), len(lc.RecentTracks))
	return nil
}

func (cs *chatSession) turn(ctx context.Context, input string) {
	req := dj.Request{
		UserID:      cs.lc.Profile.ID,
		Message:     input,
		AccessToken: cs.token,
		Persona:     cs.persona,
		Context:     cs.lc,
	}
	res := cs.engine.Respond(ctx, req)

	fmt.Printf("\n\033[32mdj>\033[0m %s\n", res.Message)
	for _, r := range res.Results {
		printResult(r)
	}
	fmt.Println()

	if cs.history == nil {
		return
	}
	t, err := dj.NewTurn(req, res)
	if err == nil {
		err = cs.history.RecordTurn(context.Background(), t)
	}
	if err != nil {
		log.Warn().Err(err).Msg("recording turn")
	}
}

func printResult(r dj.ActionResult) {
	label := string(r.Action)
	if r.ActionDetail != "" {
		label += " " + r.ActionDetail
	}
	if !r.OK() {
		fmt.Printf("  \033[31m✗ %s: %s\033[0m\n", label, r.Error)
		return
	}
	fmt.Printf("  \033[33m⚡ %s\033[0m", label)
	if r.Message != "" {
		fmt.Printf(" - %s", r.Message)
	}
	fmt.Println()

	if r.Data == nil {
		return
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return
	}
	var items []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	}
	if json.Unmarshal(data, &items) != nil {
		return
	}
	for i, it := range items {
		if i == 8 {
			fmt.Printf("  \033[90m│ ... (%d more)\033[0m\n", len(items)-8)
			break
		}
		line := it.Name
		if len(it.Artists) > 0 {
			line += " - " + it.Artists[0].Name
		}
		fmt.Printf("  \033[90m│ %s (%s)\033[0m\n", line, it.ID)
	}
}

// handleCommand runs a slash command and reports whether to quit.
func (cs *chatSession) handleCommand(input string) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/context":
		if err := cs.loadContext(context.Background()); err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
		}
		fmt.Println()
	case "/summary":
		fmt.Println(cs.lc.Summary(0))
		fmt.Println()
	case "/persona":
		if len(fields) < 2 {
			fmt.Printf("Personas: %s\n\n", strings.Join(cs.engine.Personas(), ", "))
			break
		}
		cs.persona = fields[1]
		fmt.Printf("Persona set to %s.\n\n", cs.persona)
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help           - Show this help")
		fmt.Println("  /context        - Reload your listening context from Spotify")
		fmt.Println("  /summary        - Show the context summary sent to the model")
		fmt.Println("  /persona [name] - List personas or switch to one")
		fmt.Println("  /quit           - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
