// Package notify delivers alert messages. Delivery failures are reported in
// the returned Result and never abort the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is one outbound alert. Rich marks Text as HTML formatted.
type Message struct {
	Text string
	Rich bool
}

// Result reports the outcome of a delivery attempt.
type Result struct {
	Delivered bool
	Err       error
}

// Sink is a notification channel.
type Sink interface {
	Send(ctx context.Context, msg Message) Result
}

// Deliver sends msg and logs a failed delivery. A nil sink is a no-op.
func Deliver(ctx context.Context, logger logrus.FieldLogger, sink Sink, msg Message) Result {
	if sink == nil {
		return Result{}
	}
	res := sink.Send(ctx, msg)
	if res.Err != nil {
		logger.WithError(res.Err).Warn("Notification delivery failed")
	}
	return res
}

// TelegramSink posts messages through the Telegram Bot API.
type TelegramSink struct {
	client   *http.Client
	baseURL  string
	botToken string
	chatID   string
}

// NewTelegramSink creates a TelegramSink. An empty baseURL selects the public API.
func NewTelegramSink(botToken, chatID, baseURL string, timeout time.Duration) *TelegramSink {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramSink{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		botToken: botToken,
		chatID:   chatID,
	}
}

// Send posts msg to the configured chat.
func (t *TelegramSink) Send(ctx context.Context, msg Message) Result {
	payload := map[string]interface{}{
		"chat_id": t.chatID,
		"text":    msg.Text,
	}
	if msg.Rich {
		payload["parse_mode"] = "HTML"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Err: fmt.Errorf("marshaling telegram payload: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("creating telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return Result{Err: fmt.Errorf("sending telegram message: %w", redact(err, t.botToken))}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{Err: fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}
	return Result{Delivered: true}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}

// ConsoleSink writes messages to an io.Writer, one block per message.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink creates a ConsoleSink over w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// PlainText renders a message for a terminal: rich text loses its tags and
// entities are unescaped.
func PlainText(msg Message) string {
	if !msg.Rich {
		return msg.Text
	}
	return html.UnescapeString(htmlTag.ReplaceAllString(msg.Text, ""))
}

// Send writes the plain message text followed by a blank line.
func (c *ConsoleSink) Send(_ context.Context, msg Message) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n\n", PlainText(msg)); err != nil {
		return Result{Err: fmt.Errorf("writing console notification: %w", err)}
	}
	return Result{Delivered: true}
}

// MultiSink fans a message out to every sink. The message counts as
// delivered when at least one sink delivered it.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks, skipping nils.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

// Send delivers to each sink in order and joins the failures.
func (m *MultiSink) Send(ctx context.Context, msg Message) Result {
	var out Result
	var errs []string
	for _, s := range m.sinks {
		r := s.Send(ctx, msg)
		if r.Delivered {
			out.Delivered = true
		}
		if r.Err != nil {
			errs = append(errs, r.Err.Error())
		}
	}
	if len(errs) > 0 {
		out.Err = fmt.Errorf("%d of %d sinks failed: %s", len(errs), len(m.sinks), strings.Join(errs, "; "))
	}
	return out
}
