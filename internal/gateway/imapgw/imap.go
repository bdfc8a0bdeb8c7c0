// Package imapgw implements the mail gateway over IMAP for reading
// and SMTP for sending, for accounts outside Gmail.
package imapgw

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/model"
)

// Config carries the account endpoints and credentials.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	SMTPHost string
	SMTPPort string

	// From is the address stamped on outgoing drafts and replies.
	From string
}

// Gateway holds connection parameters; each operation dials its own
// short-lived session, the server keeps no state between calls.
type Gateway struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{cfg: cfg, logger: logger}
}

func (g *Gateway) connect() (*imapclient.Client, error) {
	addr := g.cfg.Host + ":" + g.cfg.Port

	var client *imapclient.Client
	var err error
	if g.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(g.cfg.Username, g.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", g.cfg.Username, err)
	}
	return client, nil
}

func (g *Gateway) selectInbox(client *imapclient.Client) error {
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}
	return nil
}

// FetchUnseen searches INBOX for messages without the Seen flag and
// fetches the most recent maxResults of them with body peek, so the
// fetch itself never flips the flag.
func (g *Gateway) FetchUnseen(_ context.Context, maxResults int) ([]model.Message, error) {
	client, err := g.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := g.selectInbox(client); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if maxResults > 0 && len(uids) > maxResults {
		uids = uids[len(uids)-maxResults:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})

	var out []model.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			g.logger.Warn("collecting message failed", "err", err)
			continue
		}
		out = append(out, messageFromBuffer(buf, bodySection))
	}
	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}
	return out, nil
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) model.Message {
	m := model.Message{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}

	if buf.Envelope != nil {
		m.Subject = buf.Envelope.Subject
		m.ThreadID = buf.Envelope.MessageID
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				m.Sender = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				m.Sender = from.Addr()
			}
		}
	}

	for _, flag := range buf.Flags {
		m.Labels = append(m.Labels, string(flag))
	}

	if raw := buf.FindBodySection(section); raw != nil {
		m.Body = textBody(raw)
		m.Snippet = snippet(m.Body)
	}
	return m
}

// textBody extracts the first text/plain inline part from a raw
// RFC 2822 message, falling back to the raw bytes when MIME parsing
// fails.
func textBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		return string(body)
	}
	return ""
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// Archive moves the message to an archive mailbox. Folder naming is
// not standardized across servers, so common names are tried in turn
// before falling back to the Deleted flag.
func (g *Gateway) Archive(_ context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return &gateway.ActionError{Op: "archive", MessageID: id, Err: err}
	}

	client, err := g.connect()
	if err != nil {
		return &gateway.ActionError{Op: "archive", MessageID: id, Err: err}
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := g.selectInbox(client); err != nil {
		return &gateway.ActionError{Op: "archive", MessageID: id, Err: err}
	}

	uidSet := imap.UIDSetNum(uid)
	for _, folder := range []string{"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive"} {
		if _, err := client.Move(uidSet, folder).Wait(); err == nil {
			return nil
		}
	}

	if err := g.storeFlags(client, uidSet, imap.FlagDeleted); err != nil {
		return &gateway.ActionError{Op: "archive", MessageID: id, Err: err}
	}
	return nil
}

// Delete flags the message deleted and expunges it, which sends it
// to the server's trash handling rather than bypassing it.
func (g *Gateway) Delete(_ context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}

	client, err := g.connect()
	if err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := g.selectInbox(client); err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}

	if err := g.storeFlags(client, imap.UIDSetNum(uid), imap.FlagDeleted); err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}
	if err := client.Expunge().Close(); err != nil {
		return &gateway.ActionError{Op: "delete", MessageID: id, Err: err}
	}
	return nil
}

// MarkRead adds the Seen flag.
func (g *Gateway) MarkRead(_ context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return &gateway.ActionError{Op: "mark read", MessageID: id, Err: err}
	}

	client, err := g.connect()
	if err != nil {
		return &gateway.ActionError{Op: "mark read", MessageID: id, Err: err}
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := g.selectInbox(client); err != nil {
		return &gateway.ActionError{Op: "mark read", MessageID: id, Err: err}
	}

	if err := g.storeFlags(client, imap.UIDSetNum(uid), imap.FlagSeen); err != nil {
		return &gateway.ActionError{Op: "mark read", MessageID: id, Err: err}
	}
	return nil
}

func (g *Gateway) storeFlags(client *imapclient.Client, uidSet imap.UIDSet, flags ...imap.Flag) error {
	return client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil).Close()
}

// CreateDraft appends a reply message to the Drafts mailbox.
func (g *Gateway) CreateDraft(_ context.Context, to, subject, body, threadID string) error {
	raw := buildReply(g.cfg.From, to, subject, body, threadID)

	client, err := g.connect()
	if err != nil {
		return &gateway.ActionError{Op: "create draft", MessageID: threadID, Err: err}
	}
	defer func() { _ = client.Logout().Wait() }()

	appendCmd := client.Append("Drafts", int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return &gateway.ActionError{Op: "create draft", MessageID: threadID, Err: err}
	}
	if err := appendCmd.Close(); err != nil {
		return &gateway.ActionError{Op: "create draft", MessageID: threadID, Err: err}
	}
	if _, err := appendCmd.Wait(); err != nil {
		return &gateway.ActionError{Op: "create draft", MessageID: threadID, Err: err}
	}
	return nil
}

// Send submits a reply over SMTP with plain auth.
func (g *Gateway) Send(_ context.Context, to, subject, body, threadID string) error {
	raw := buildReply(g.cfg.From, to, subject, body, threadID)
	addr := g.cfg.SMTPHost + ":" + g.cfg.SMTPPort
	auth := smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.SMTPHost)

	if err := smtp.SendMail(addr, auth, g.cfg.From, []string{extractAddr(to)}, raw); err != nil {
		return &gateway.ActionError{Op: "send", MessageID: threadID, Err: err}
	}
	return nil
}

// buildReply assembles an RFC 2822 reply. threadID, when set, is the
// Message-ID of the message being answered and goes into In-Reply-To
// so clients keep the thread together.
func buildReply(from, to, subject, body, threadID string) []byte {
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if threadID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", threadID)
		fmt.Fprintf(&b, "References: %s\r\n", threadID)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// extractAddr pulls the bare address out of a "Name <addr>" sender.
func extractAddr(s string) string {
	if start := strings.LastIndex(s, "<"); start != -1 {
		if end := strings.LastIndex(s, ">"); end > start {
			return s[start+1 : end]
		}
	}
	return strings.TrimSpace(s)
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid IMAP UID %q: %w", id, err)
	}
	return imap.UID(n), nil
}
