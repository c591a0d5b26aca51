package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spabook/internal/notify"
)

const testTemplates = `
default_language: en
templates:
  booking_confirmed:
    en:
      subject: "Booking {{.booking_number}} confirmed"
      body: "Hi {{.customer_name}}, see you on {{.date}} at {{.time}}."
    he:
      subject: "ההזמנה {{.booking_number}} אושרה"
      body: "שלום {{.customer_name}}"
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ParseCatalog([]byte(testTemplates))
	require.NoError(t, err)
	return c
}

func fastConfig() Config {
	return Config{Rate: 1000, Burst: 100, RetryDelays: []time.Duration{time.Millisecond, time.Millisecond}}
}

type fakeChannel struct {
	mu        sync.Mutex
	delivered []notify.Recipient
	content   []Rendered
	errs      []error // returned in order, then nil
}

func (f *fakeChannel) Deliver(_ context.Context, to notify.Recipient, content Rendered) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, to)
	f.content = append(f.content, content)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeChannel) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func TestCatalogRender(t *testing.T) {
	c := testCatalog(t)
	data := map[string]string{"booking_number": "BK-7", "customer_name": "Maya", "date": "2026-03-14", "time": "10:30"}

	got, err := c.Render("booking_confirmed", "en", data)
	require.NoError(t, err)
	assert.Equal(t, "Booking BK-7 confirmed", got.Subject)
	assert.Equal(t, "Hi Maya, see you on 2026-03-14 at 10:30.", got.Body)

	t.Run("falls back to default language", func(t *testing.T) {
		got, err := c.Render("booking_confirmed", "fr", data)
		require.NoError(t, err)
		assert.Equal(t, "Booking BK-7 confirmed", got.Subject)
	})

	t.Run("missing keys render empty", func(t *testing.T) {
		got, err := c.Render("booking_confirmed", "he", nil)
		require.NoError(t, err)
		assert.Equal(t, "שלום ", got.Body)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := c.Render("nope", "en", data)
		assert.Error(t, err)
	})
}

func TestParseCatalog_RejectsBrokenTemplate(t *testing.T) {
	_, err := ParseCatalog([]byte("templates:\n  x:\n    en:\n      body: \"{{.broken\"\n"))
	assert.Error(t, err)
}

func TestServiceSend_RoutesByType(t *testing.T) {
	email := &fakeChannel{}
	sms := &fakeChannel{}
	s := NewService(testCatalog(t), fastConfig(), zerolog.Nop())
	s.Register("email", email)
	s.Register("sms", sms)

	err := s.Send(context.Background(), []notify.Recipient{
		{Type: "email", Value: "maya@example.com", Language: "en"},
		{Type: "sms", Value: "0501234567", Language: "he"},
	}, notify.Message{Template: "booking_confirmed", Data: map[string]string{"customer_name": "Maya"}})

	require.NoError(t, err)
	require.Equal(t, 1, email.attempts())
	require.Equal(t, 1, sms.attempts())
	assert.Equal(t, "שלום Maya", sms.content[0].Body)
}

func TestServiceSend_PartialFailure(t *testing.T) {
	email := &fakeChannel{errs: []error{Permanent(errors.New("bad address"))}}
	sms := &fakeChannel{}
	s := NewService(testCatalog(t), fastConfig(), zerolog.Nop())
	s.Register("email", email)
	s.Register("sms", sms)

	err := s.Send(context.Background(), []notify.Recipient{
		{Type: "email", Value: "broken"},
		{Type: "telegram", Value: "42"},
		{Type: "sms", Value: "0501234567"},
	}, notify.Message{Template: "booking_confirmed"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad address")
	assert.Contains(t, err.Error(), "no channel")
	assert.Equal(t, 1, email.attempts(), "permanent errors are not retried")
	assert.Equal(t, 1, sms.attempts())
}

func TestServiceSend_RetriesTransientErrors(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		attempts int
		wantErr  bool
	}{
		{"recovers on second attempt", []error{errors.New("timeout")}, 2, false},
		{"gives up after all delays", []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{errs: tt.errs}
			s := NewService(testCatalog(t), fastConfig(), zerolog.Nop())
			s.Register("email", ch)

			err := s.Send(context.Background(), []notify.Recipient{{Type: "email", Value: "a@example.com"}}, notify.Message{Template: "booking_confirmed"})

			assert.Equal(t, tt.attempts, ch.attempts())
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestServiceSend_HonoursCancellation(t *testing.T) {
	ch := &fakeChannel{errs: []error{errors.New("transient")}}
	cfg := fastConfig()
	cfg.RetryDelays = []time.Duration{time.Hour}
	s := NewService(testCatalog(t), cfg, zerolog.Nop())
	s.Register("email", ch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, []notify.Recipient{{Type: "email", Value: "a@example.com"}}, notify.Message{Template: "booking_confirmed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmailChannel(t *testing.T) {
	var got emailRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewEmailChannel(srv.URL, "secret", "spa@example.com", time.Second)
	err := ch.Deliver(context.Background(), notify.Recipient{Type: "email", Value: "maya@example.com", Name: "Maya"}, Rendered{Subject: "Hi", Body: "Body"})

	require.NoError(t, err)
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, emailRequest{From: "spa@example.com", To: "maya@example.com", ToName: "Maya", Subject: "Hi", Text: "Body"}, got)
}

func TestGatewayErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"rate limited is retried", http.StatusTooManyRequests, false},
		{"server error is retried", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ch := NewSMSChannel(srv.URL, "", "SPA", time.Second)
			err := ch.Deliver(context.Background(), notify.Recipient{Type: "sms", Value: "0501234567"}, Rendered{Body: "x"})

			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
			var gw *GatewayError
			require.ErrorAs(t, err, &gw)
			assert.Equal(t, tt.status, gw.Status)
			assert.Equal(t, 2*time.Second, retryAfter(err))
		})
	}
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestTelegramChannel(t *testing.T) {
	t.Run("sends to chat", func(t *testing.T) {
		bot := &fakeBot{}
		ch := NewTelegramChannelWithSender(bot)

		err := ch.Deliver(context.Background(), notify.Recipient{Type: "telegram", Value: "42"}, Rendered{Subject: "Reminder", Body: "Tomorrow 10:00"})
		require.NoError(t, err)
		require.Len(t, bot.sent, 1)

		msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
		require.True(t, ok)
		assert.Equal(t, int64(42), msg.ChatID)
		assert.Equal(t, "Reminder\n\nTomorrow 10:00", msg.Text)
	})

	t.Run("blocked bot is permanent", func(t *testing.T) {
		bot := &fakeBot{err: &tgbotapi.Error{Code: http.StatusForbidden, Message: "Forbidden: bot was blocked by the user"}}
		ch := NewTelegramChannelWithSender(bot)

		err := ch.Deliver(context.Background(), notify.Recipient{Type: "telegram", Value: "42"}, Rendered{Body: "x"})
		assert.True(t, IsPermanent(err))
	})

	t.Run("invalid chat id", func(t *testing.T) {
		ch := NewTelegramChannelWithSender(&fakeBot{})
		err := ch.Deliver(context.Background(), notify.Recipient{Type: "telegram", Value: "@maya"}, Rendered{Body: "x"})
		assert.True(t, IsPermanent(err))
	})
}

func TestTemplateWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTemplates), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var updates atomic.Int32
	var latest atomic.Pointer[Catalog]
	w := NewTemplateWatcher(path, 10*time.Millisecond, func(c *Catalog) {
		updates.Add(1)
		latest.Store(c)
	}, zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	assert.Equal(t, int32(1), updates.Load())

	next := testTemplates + "  review_request:\n    en:\n      body: \"How was it?\"\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool { return updates.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	_, ok := latest.Load().Templates["review_request"]
	assert.True(t, ok)
}

func TestTemplateWatcher_Check(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTemplates), 0o600))

	var failures atomic.Int32
	logger := zerolog.New(io.Discard).Hook(zerolog.HookFunc(func(_ *zerolog.Event, level zerolog.Level, _ string) {
		if level == zerolog.ErrorLevel {
			failures.Add(1)
		}
	}))

	var updates int
	w := NewTemplateWatcher(path, time.Hour, func(*Catalog) { updates++ }, logger)
	touch := func(content string, at time.Time) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		require.NoError(t, os.Chtimes(path, at, at))
	}
	base := time.Now()

	require.NoError(t, w.check())
	assert.Equal(t, 1, updates)

	// same content under a newer timestamp
	touch(testTemplates, base.Add(time.Minute))
	require.NoError(t, w.check())
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, w.unchanged)

	broken := testTemplates + "  broken:\n    en:\n      body: \"{{.oops\"\n"
	touch(broken, base.Add(2*time.Minute))
	assert.Error(t, w.check())
	assert.Error(t, w.check())
	assert.Equal(t, 1, updates)
	assert.Equal(t, int32(1), failures.Load())

	touch(testTemplates+"  review_request:\n    en:\n      body: \"How was it?\"\n", base.Add(3*time.Minute))
	require.NoError(t, w.check())
	assert.Equal(t, 2, updates)
}

func TestTemplateWatcher_MissingFile(t *testing.T) {
	w := NewTemplateWatcher(filepath.Join(t.TempDir(), "missing.yaml"), time.Second, nil, zerolog.Nop())
	assert.Error(t, w.Start(context.Background()))
}

func TestTelegramDocuments(t *testing.T) {
	bot := &fakeBot{}
	docs := NewTelegramChannelWithSender(bot).Documents([]int64{7, 8})

	err := docs.SendDocument(context.Background(), "purchases_2026-05.xlsx", strings.NewReader("xlsx"), "May purchases")
	require.NoError(t, err)
	require.Len(t, bot.sent, 2)

	doc, ok := bot.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, int64(8), doc.ChatID)
	assert.Equal(t, "May purchases", doc.Caption)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "purchases_2026-05.xlsx", file.Name)
	assert.Equal(t, []byte("xlsx"), file.Bytes)

	bot.err = errors.New("network")
	assert.Error(t, docs.SendDocument(context.Background(), "f.xlsx", strings.NewReader("x"), ""))
}
