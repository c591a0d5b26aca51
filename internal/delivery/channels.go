package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"spabook/internal/notify"
)

// Channel delivers one rendered message to one recipient.
type Channel interface {
	Deliver(ctx context.Context, to notify.Recipient, content Rendered) error
}

// GatewayError is a non-2xx answer from an HTTP gateway.
type GatewayError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway http %d: %s", e.Status, e.Body)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// retryAfter extracts a server supplied back-off hint.
func retryAfter(err error) time.Duration {
	var gw *GatewayError
	if errors.As(err, &gw) {
		return gw.RetryAfter
	}
	var tg *tgbotapi.Error
	if errors.As(err, &tg) {
		return time.Duration(tg.RetryAfter) * time.Second
	}
	return 0
}

type gateway struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func newGateway(url, apiKey string, timeout time.Duration) gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return gateway{url: url, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

func (g gateway) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-api-key", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	gwErr := &GatewayError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			gwErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return Permanent(gwErr)
	}
	return gwErr
}

// EmailChannel posts messages to a transactional email HTTP API.
type EmailChannel struct {
	gw   gateway
	from string
}

func NewEmailChannel(url, apiKey, from string, timeout time.Duration) *EmailChannel {
	return &EmailChannel{gw: newGateway(url, apiKey, timeout), from: from}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (c *EmailChannel) Deliver(ctx context.Context, to notify.Recipient, content Rendered) error {
	return c.gw.post(ctx, emailRequest{
		From:    c.from,
		To:      to.Value,
		ToName:  to.Name,
		Subject: content.Subject,
		Text:    content.Body,
	})
}

// SMSChannel posts messages to an SMS HTTP API.
type SMSChannel struct {
	gw     gateway
	sender string
}

func NewSMSChannel(url, apiKey, sender string, timeout time.Duration) *SMSChannel {
	return &SMSChannel{gw: newGateway(url, apiKey, timeout), sender: sender}
}

type smsRequest struct {
	Sender string `json:"sender"`
	To     string `json:"to"`
	Text   string `json:"text"`
}

func (c *SMSChannel) Deliver(ctx context.Context, to notify.Recipient, content Rendered) error {
	return c.gw.post(ctx, smsRequest{Sender: c.sender, To: to.Value, Text: content.Body})
}

// TelegramSender is the part of the bot API the channel uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel sends chat messages through a bot.
type TelegramChannel struct {
	bot TelegramSender
}

// NewTelegramChannel connects a bot with token.
func NewTelegramChannel(token string) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramChannel{bot: api}, nil
}

// NewTelegramChannelWithSender allows injecting a fake bot in tests.
func NewTelegramChannelWithSender(bot TelegramSender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

func (c *TelegramChannel) Deliver(_ context.Context, to notify.Recipient, content Rendered) error {
	chatID, err := strconv.ParseInt(to.Value, 10, 64)
	if err != nil {
		return Permanent(fmt.Errorf("invalid telegram chat id %q", to.Value))
	}

	text := content.Body
	if content.Subject != "" {
		text = content.Subject + "\n\n" + text
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusBadRequest, http.StatusForbidden:
				// bad request or the user blocked the bot
				return Permanent(err)
			}
		}
		return err
	}
	return nil
}

// Documents returns a sender of files to the given chats, used for reports.
func (c *TelegramChannel) Documents(chatIDs []int64) *DocumentSender {
	return &DocumentSender{bot: c.bot, chatIDs: chatIDs}
}

// DocumentSender posts a file to a fixed set of chats.
type DocumentSender struct {
	bot     TelegramSender
	chatIDs []int64
}

func (d *DocumentSender) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	var errs []error
	for _, id := range d.chatIDs {
		doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: filename, Bytes: raw})
		doc.Caption = caption
		if _, err := d.bot.Send(doc); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
