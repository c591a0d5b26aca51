package delivery

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTemplatesPath = "configs/templates.yaml"
	defaultWatchInterval = 30 * time.Second
)

// TemplateWatcher polls the templates file and hands every valid new version
// to onUpdate. A broken edit is logged once and the previous catalog stays in
// use until the file is fixed.
type TemplateWatcher struct {
	path     string
	interval time.Duration
	onUpdate func(*Catalog)
	logger   zerolog.Logger

	lastMod   time.Time
	loaded    [sha256.Size]byte
	rejected  [sha256.Size]byte
	unchanged int
}

func NewTemplateWatcher(path string, interval time.Duration, onUpdate func(*Catalog), logger zerolog.Logger) *TemplateWatcher {
	if path == "" {
		path = defaultTemplatesPath
	}
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &TemplateWatcher{
		path:     path,
		interval: interval,
		onUpdate: onUpdate,
		logger:   logger.With().Str("component", "template_watcher").Str("path", path).Logger(),
	}
}

// Start loads the file once, returning its error, and then polls it until ctx
// is done.
func (w *TemplateWatcher) Start(ctx context.Context) error {
	if err := w.check(); err != nil {
		return err
	}
	go w.poll(ctx)
	w.logger.Info().Dur("interval", w.interval).Msg("template watcher started")
	return nil
}

func (w *TemplateWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(); err != nil {
				w.logger.Debug().Err(err).Msg("template check failed")
			}
		}
	}
}

// check reloads the file when its modification time moved and its content
// differs from the loaded version.
func (w *TemplateWatcher) check() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat templates: %w", err)
	}
	if !w.lastMod.IsZero() && !info.ModTime().After(w.lastMod) {
		return nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read templates: %w", err)
	}
	sum := sha256.Sum256(data)
	if sum == w.loaded {
		w.lastMod = info.ModTime()
		w.unchanged++
		return nil
	}

	catalog, err := ParseCatalog(data)
	if err != nil {
		if sum != w.rejected {
			w.rejected = sum
			w.logger.Error().Err(err).Msg("templates reload failed, keeping previous catalog")
		}
		return err
	}

	w.lastMod = info.ModTime()
	w.loaded = sum
	w.rejected = [sha256.Size]byte{}
	if w.onUpdate != nil {
		w.onUpdate(catalog)
	}
	return nil
}
