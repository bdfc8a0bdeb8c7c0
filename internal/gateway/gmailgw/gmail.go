// Package gmailgw implements the mail gateway on top of the Gmail
// REST API.
package gmailgw

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/model"
)

const user = "me"

// Gateway talks to a single Gmail account.
type Gateway struct {
	srv    *gmail.Service
	logger *slog.Logger
}

// New builds a Gateway from an OAuth client secret file and a cached
// token file. The token must already exist; Authorize produces it.
func New(ctx context.Context, credentialsPath, tokenPath string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := oauthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading token file %s: %w (run authorization first)", tokenPath, err)
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Gateway{srv: srv, logger: logger}, nil
}

// Authorize runs the out-of-band OAuth flow: it prints the consent
// URL, reads the authorization code from prompt, and caches the
// resulting token at tokenPath.
func Authorize(ctx context.Context, credentialsPath, tokenPath string, prompt func(url string) (string, error)) error {
	cfg, err := oauthConfig(credentialsPath)
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	code, err := prompt(authURL)
	if err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	return saveToken(tokenPath, tok)
}

func oauthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailModifyScope, gmail.GmailComposeScope)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret file: %w", err)
	}
	return cfg, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("saving oauth token: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(tok)
}

// FetchUnseen lists unread inbox messages and hydrates each to a full
// message. A message that fails to hydrate is logged and skipped; the
// rest of the batch survives.
func (g *Gateway) FetchUnseen(ctx context.Context, maxResults int) ([]model.Message, error) {
	list, err := g.srv.Users.Messages.List(user).
		Context(ctx).
		LabelIds("INBOX", "UNREAD").
		MaxResults(int64(maxResults)).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing unread messages: %w", err)
	}

	out := make([]model.Message, 0, len(list.Messages))
	for _, stub := range list.Messages {
		full, err := g.srv.Users.Messages.Get(user, stub.Id).Context(ctx).Format("full").Do()
		if err != nil {
			g.logger.Warn("fetching full message failed", "id", stub.Id, "err", err)
			continue
		}
		out = append(out, parseMessage(full))
	}
	return out, nil
}

func parseMessage(msg *gmail.Message) model.Message {
	m := model.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}
	if msg.Payload == nil {
		return m
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			m.Sender = h.Value
		case "Subject":
			m.Subject = h.Value
		}
	}
	m.Body = plainTextBody(msg.Payload)
	return m
}

// plainTextBody walks the MIME tree for the first decodable text part.
func plainTextBody(part *gmail.MessagePart) string {
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		mime := strings.ToLower(p.MimeType)
		if strings.HasPrefix(mime, "text/") || strings.HasPrefix(mime, "multipart/") {
			if body := plainTextBody(p); body != "" {
				return body
			}
		}
	}
	return ""
}

// Archive removes the message from the inbox.
func (g *Gateway) Archive(ctx context.Context, id string) error {
	_, err := g.srv.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return &gateway.ActionError{Op: "archive", MessageID: id, Err: err}
	}
	return nil
}

// Delete moves the message to trash. Trash is recoverable; the
// gateway never issues a permanent delete.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	_, err := g.srv.Users.Messages.Trash(user, id).Context(ctx).Do()
	if err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}
	return nil
}

// CreateDraft saves a threaded reply draft.
func (g *Gateway) CreateDraft(ctx context.Context, to, subject, body, threadID string) error {
	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      rawReply(to, subject, body),
			ThreadId: threadID,
		},
	}
	_, err := g.srv.Users.Drafts.Create(user, draft).Context(ctx).Do()
	if err != nil {
		return &gateway.ActionError{Op: "create draft", MessageID: threadID, Err: err}
	}
	return nil
}

// Send sends a threaded reply.
func (g *Gateway) Send(ctx context.Context, to, subject, body, threadID string) error {
	msg := &gmail.Message{
		Raw:      rawReply(to, subject, body),
		ThreadId: threadID,
	}
	_, err := g.srv.Users.Messages.Send(user, msg).Context(ctx).Do()
	if err != nil {
		return &gateway.ActionError{Op: "send", MessageID: threadID, Err: err}
	}
	return nil
}

// MarkRead clears the unread label.
func (g *Gateway) MarkRead(ctx context.Context, id string) error {
	_, err := g.srv.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return &gateway.ActionError{Op: "mark read", MessageID: id, Err: err}
	}
	return nil
}

// rawReply builds an RFC 2822 reply and encodes it the way the Gmail
// API expects, URL-safe base64 without padding concerns.
func rawReply(to, subject, body string) string {
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}
