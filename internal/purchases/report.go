package purchases

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DocumentSender delivers a finished report, e.g. to the admins' chat.
type DocumentSender interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

type ReportConfig struct {
	// Dir keeps a copy of every report when set.
	Dir string
	// RunOnStart exports the previous month right away.
	RunOnStart bool
}

// Reporter exports the previous month's purchases on the first day of every
// month.
type Reporter struct {
	service *Service
	sender  DocumentSender
	config  ReportConfig
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewReporter creates a monthly reporter. sender may be nil when reports are
// only kept on disk.
func NewReporter(service *Service, sender DocumentSender, cfg ReportConfig) *Reporter {
	return &Reporter{
		service: service,
		sender:  sender,
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// ReportFilename names the report covering the month of t.
func ReportFilename(t time.Time) string {
	return fmt.Sprintf("purchases_%s.xlsx", t.Format("2006-01"))
}

// MonthRange returns the first and last instant of the month before now.
func MonthRange(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

func (r *Reporter) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	if r.config.RunOnStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.run()
		}()
	}

	r.wg.Add(1)
	go r.loop()
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	r.service.logger.Info().Msg("purchase reporter stopped")
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	next := nextFirstOfMonth(r.service.now())
	timer := time.NewTimer(next.Sub(r.service.now()))
	defer timer.Stop()
	r.service.logger.Info().Time("next_run", next).Msg("purchase report scheduled")

	for {
		select {
		case <-r.stopCh:
			return
		case <-timer.C:
			r.run()
			next = nextFirstOfMonth(r.service.now())
			timer.Reset(next.Sub(r.service.now()))
			r.service.logger.Info().Time("next_run", next).Msg("purchase report scheduled")
		}
	}
}

func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

func (r *Reporter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := r.ExportPreviousMonth(ctx); err != nil {
		r.service.logger.Error().Err(err).Msg("monthly purchase report failed")
	}
}

// ExportPreviousMonth builds last month's report, stores and sends it, and
// returns its file name.
func (r *Reporter) ExportPreviousMonth(ctx context.Context) (string, error) {
	from, to := MonthRange(r.service.now())
	filename := ReportFilename(from)

	var buf bytes.Buffer
	if err := r.service.ExportXLSX(ctx, "", Filter{DateFrom: &from, DateTo: &to}, &buf); err != nil {
		return "", err
	}

	if r.config.Dir != "" {
		if err := os.MkdirAll(r.config.Dir, 0o755); err != nil {
			return "", fmt.Errorf("create report directory: %w", err)
		}
		if err := os.WriteFile(filepath.Join(r.config.Dir, filename), buf.Bytes(), 0o644); err != nil {
			return "", fmt.Errorf("write report: %w", err)
		}
	}

	if r.sender != nil {
		caption := fmt.Sprintf("Purchases %s", from.Format("January 2006"))
		if err := r.sender.SendDocument(ctx, filename, bytes.NewReader(buf.Bytes()), caption); err != nil {
			return "", fmt.Errorf("send report: %w", err)
		}
	}

	r.service.logger.Info().Str("filename", filename).Msg("monthly purchase report exported")
	return filename, nil
}
