// Package app assembles the configured components into a running
// application: store, mail gateway, classifier, automation engine,
// scanner, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mselvam/inboxzero/internal/api"
	"github.com/mselvam/inboxzero/internal/automation"
	"github.com/mselvam/inboxzero/internal/classify"
	"github.com/mselvam/inboxzero/internal/credential"
	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/gateway/gmailgw"
	"github.com/mselvam/inboxzero/internal/gateway/imapgw"
	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/ratelimit"
	"github.com/mselvam/inboxzero/internal/scan"
	"github.com/mselvam/inboxzero/internal/store"
	appsync "github.com/mselvam/inboxzero/internal/sync"
)

// App holds the assembled components for one configured account.
type App struct {
	Store   *store.SQLiteStore
	Gateway gateway.MailGateway
	Scanner *scan.Scanner
	Server  *api.Server
	Poller  *appsync.Poller

	logger *slog.Logger
	addr   string
}

// New builds the full component graph from configuration. The Groq
// API key comes from the keyring with an environment override.
func New(ctx context.Context, cfg *model.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey, err := credential.GroqAPIKey()
	if err != nil {
		return nil, fmt.Errorf("resolving Groq API key: %w (set %s or store it with the credential command)",
			err, credential.EnvGroqAPIKey)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.Calls, time.Duration(cfg.RateLimit.PeriodSec)*time.Second, logger)
	classifier := classify.NewGroqClassifier(
		apiKey, cfg.AI.Model, cfg.AI.MaxTokens, cfg.AI.Temperature, cfg.Scan.UserName)
	analyzer := classify.NewAnalyzer(classifier, limiter, cfg.Scan.UserName, logger)

	rules, err := automation.LoadRules(ctx, st, cfg.Automation)
	if err != nil {
		st.Close()
		return nil, err
	}
	engine := automation.New(gw, rules, logger)

	scanner := scan.New(gw, analyzer, engine, st, logger, scan.Options{
		Workers:        cfg.Scan.Workers,
		BodyPreviewLen: cfg.Scan.BodyPreviewLen,
	})

	server := api.NewServer(scanner, gw, st, rules, logger, api.Options{
		MaxEmails: cfg.Scan.MaxEmails,
		AutoDraft: cfg.Scan.AutoDraft,
	})

	var poller *appsync.Poller
	if cfg.Scan.PollIntervalSec > 0 {
		poller = appsync.New(scanner,
			time.Duration(cfg.Scan.PollIntervalSec)*time.Second,
			cfg.Scan.MaxEmails, cfg.Scan.AutoDraft, logger)
	}

	return &App{
		Store:   st,
		Gateway: gw,
		Scanner: scanner,
		Server:  server,
		Poller:  poller,
		logger:  logger,
		addr:    cfg.HTTP.Addr,
	}, nil
}

func buildGateway(ctx context.Context, cfg *model.AppConfig, logger *slog.Logger) (gateway.MailGateway, error) {
	switch cfg.Gateway {
	case "", "gmail":
		gw, err := gmailgw.New(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, logger)
		if err != nil {
			return nil, fmt.Errorf("building gmail gateway: %w", err)
		}
		return gw, nil

	case "imap":
		password, err := credential.IMAPPassword()
		if err != nil {
			return nil, fmt.Errorf("resolving IMAP password: %w", err)
		}
		return imapgw.New(imapgw.Config{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: password,
			TLS:      cfg.IMAP.TLS,
			SMTPHost: cfg.IMAP.SMTPHost,
			SMTPPort: cfg.IMAP.SMTPPort,
			From:     cfg.IMAP.Username,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown gateway %q (want gmail or imap)", cfg.Gateway)
	}
}

// Run serves HTTP until ctx is canceled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	if a.Poller != nil {
		a.Poller.Start()
		defer a.Poller.Stop()
	}

	errc := make(chan error, 1)
	go func() {
		errc <- a.Server.Listen(a.addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		if err := a.Server.Shutdown(); err != nil {
			a.logger.Warn("server shutdown failed", "err", err)
		}
		return a.Store.Close()
	}
}
