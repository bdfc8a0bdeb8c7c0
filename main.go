// inboxzero triages a mailbox: it classifies unseen mail once with an
// AI model, scores priorities deterministically, applies autopilot
// rules, and serves the results over a local HTTP API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mselvam/inboxzero/internal/app"
	"github.com/mselvam/inboxzero/internal/credential"
	"github.com/mselvam/inboxzero/internal/gateway/gmailgw"
	"github.com/mselvam/inboxzero/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inboxzero: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	switch flag.Arg(0) {
	case "", "serve":
		return serve(cfg, logger)
	case "authorize":
		return authorize(cfg)
	case "set-key":
		return setKey(flag.Arg(1))
	default:
		return fmt.Errorf("unknown command %q (want serve, authorize, or set-key)", flag.Arg(0))
	}
}

func serve(cfg *model.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("inboxzero starting",
		"gateway", cfg.Gateway,
		"db", cfg.Database.Path,
		"addr", cfg.HTTP.Addr)

	return a.Run(ctx)
}

// authorize runs the Gmail OAuth consent flow and caches the token.
func authorize(cfg *model.AppConfig) error {
	ctx := context.Background()
	return gmailgw.Authorize(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, func(url string) (string, error) {
		fmt.Printf("Open this URL in your browser, then paste the authorization code:\n%s\n> ", url)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return "", fmt.Errorf("no code entered: %w", scanner.Err())
		}
		return scanner.Text(), nil
	})
}

// setKey stores a credential in the system keyring. Supported names
// are groq and imap.
func setKey(name string) error {
	var key string
	switch name {
	case "groq":
		key = credential.KeyGroqAPIKey
	case "imap":
		key = credential.KeyIMAPPassword
	default:
		return fmt.Errorf("unknown credential %q (want groq or imap)", name)
	}

	fmt.Print("Enter value: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no value entered: %w", scanner.Err())
	}

	if err := credential.Set(key, scanner.Text()); err != nil {
		return err
	}
	fmt.Println("Saved.")
	return nil
}
