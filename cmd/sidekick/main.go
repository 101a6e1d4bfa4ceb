// Command sidekick is an interactive task assistant. A worker model answers
// with access to tools, and an evaluator model judges every answer against a
// success criterion before it reaches the user.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/muesli/reflow/wordwrap"

	"github.com/openclaw/sidekick/internal/browser"
	"github.com/openclaw/sidekick/internal/calendar"
	"github.com/openclaw/sidekick/internal/config"
	"github.com/openclaw/sidekick/internal/llm"
	"github.com/openclaw/sidekick/internal/logging"
	"github.com/openclaw/sidekick/internal/session"
	"github.com/openclaw/sidekick/internal/sidekick"
	"github.com/openclaw/sidekick/internal/tools"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const wrapWidth = 100

var (
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	feedbackStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	toolStyle     = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("3"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sidekick"),
		kong.Description("A task assistant whose answers are checked by an evaluator model."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the given config file, falling back to defaults when the
// file does not exist so the CLI works out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	return llm.NewProvider(llm.Options{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey(),
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		MaxRetries:  cfg.MaxRetries,
		InitBackoff: cfg.RetryBackoffDuration(),
	})
}

func openStore(cfg config.StorageConfig) (session.Store, error) {
	if cfg.Path == "" {
		return session.NewMemoryStore(), nil
	}
	return session.NewSQLiteStore(cfg.Path)
}

// Run starts the interactive REPL.
func (c *ChatCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	log := logging.New()
	if c.Verbose {
		log.SetLevel(logging.LevelDebug)
	} else {
		log.SetOutput(io.Discard)
	}

	worker, err := newProvider(cfg.Worker)
	if err != nil {
		return fmt.Errorf("worker model: %w", err)
	}
	evaluator, err := newProvider(cfg.Evaluator)
	if err != nil {
		return fmt.Errorf("evaluator model: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := tools.NewRegistry(cfg.Tools)

	sk := sidekick.New(worker, evaluator, registry, store, log)
	defer sk.Cleanup()

	if cfg.Browser.Enabled {
		kit, err := browser.New(cfg.Browser.Headless, log)
		if err != nil {
			return fmt.Errorf("browser: %w", err)
		}
		kit.RegisterTools(registry)
		sk.AddResource(kit)
	}
	if cfg.Calendar.Enabled {
		cal, err := calendar.New(ctx, cfg.Calendar)
		if err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
		cal.RegisterTools(registry)
	}

	if c.Resume != "" {
		if err := sk.Resume(c.Resume); err != nil {
			return fmt.Errorf("resume session %s: %w", c.Resume, err)
		}
		fmt.Printf("Resumed session %s\n", c.Resume)
	}

	sk.OnToolCall = func(name string, args map[string]interface{}) {
		fmt.Fprintln(os.Stderr, toolStyle.Render(fmt.Sprintf("  → Tool: %s", name)))
	}

	fmt.Printf("Sidekick %s (session %s)\n", version, sk.SessionID())
	fmt.Println("Type /exit to quit, /reset for a fresh session, /criteria <text> to change the success criteria.")

	criteria := c.Criteria
	var history []llm.Message
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("you> ") + " ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			sk.Reset()
			history = nil
			fmt.Printf("Started session %s\n", sk.SessionID())
			continue
		case strings.HasPrefix(line, "/criteria"):
			criteria = strings.TrimSpace(strings.TrimPrefix(line, "/criteria"))
			if criteria == "" {
				fmt.Println("Criteria reset to default.")
			} else {
				fmt.Printf("Criteria: %s\n", criteria)
			}
			continue
		}

		updated, err := sk.RunTurn(ctx, line, criteria, history)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println(errorStyle.Render("Error: " + err.Error()))
			continue
		}
		history = updated

		// The turn always appends the user message, the answer, and the
		// evaluator's annotation, in that order.
		answer := history[len(history)-2].Content
		feedback := history[len(history)-1].Content
		fmt.Println(answerStyle.Render(wordwrap.String(answer, wrapWidth)))
		fmt.Println(feedbackStyle.Render(wordwrap.String(feedback, wrapWidth)))
		fmt.Println()
	}
	return scanner.Err()
}

// Run lists stored sessions.
func (c *SessionsCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		fmt.Println("No session storage configured (storage.path is empty).")
		return nil
	}
	store, err := session.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No stored sessions.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("sidekick %s (commit %s, built %s)\n", version, commit, date)
	return nil
}
