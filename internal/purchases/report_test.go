package purchases

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type capturedDocument struct {
	filename string
	caption  string
	data     []byte
}

type fakeDocumentSender struct {
	docs []capturedDocument
	err  error
}

func (f *fakeDocumentSender) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.docs = append(f.docs, capturedDocument{filename: filename, caption: caption, data: raw})
	return nil
}

func TestMonthRange(t *testing.T) {
	from, to := MonthRange(time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 59, 999999999, time.UTC), to)
	assert.Equal(t, "purchases_2025-12.xlsx", ReportFilename(from))
}

func TestExportPreviousMonth(t *testing.T) {
	s := newTestService(fixtureStore())
	s.now = func() time.Time { return time.Date(2026, 7, 1, 0, 1, 0, 0, time.UTC) }

	dir := t.TempDir()
	sender := &fakeDocumentSender{}
	r := NewReporter(s, sender, ReportConfig{Dir: dir})

	name, err := r.ExportPreviousMonth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "purchases_2026-06.xlsx", name)
	assert.FileExists(t, filepath.Join(dir, name))

	require.Len(t, sender.docs, 1)
	assert.Equal(t, "Purchases June 2026", sender.docs[0].caption)

	f, err := excelize.OpenReader(bytes.NewReader(sender.docs[0].data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	// header plus every June transaction of every user
	assert.Len(t, rows, 6)
}

func TestExportPreviousMonth_SendFailure(t *testing.T) {
	s := newTestService(fixtureStore())
	r := NewReporter(s, &fakeDocumentSender{err: errors.New("chat not found")}, ReportConfig{})

	_, err := r.ExportPreviousMonth(context.Background())
	assert.Error(t, err)
}

func TestReporterStartStop(t *testing.T) {
	s := newTestService(fixtureStore())
	s.now = func() time.Time { return time.Date(2026, 7, 1, 0, 1, 0, 0, time.UTC) }
	dir := t.TempDir()

	r := NewReporter(s, nil, ReportConfig{Dir: dir, RunOnStart: true})
	r.Start()
	r.Start()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "purchases_2026-06.xlsx"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}
