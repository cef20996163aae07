package trainlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

// Header is the first row of every training CSV.
var Header = []string{"Reps", "Date", "Time", "Level", "Angle"}

// CSVWriter appends snapshot rows to training_<timestamp>.csv
type CSVWriter struct {
	mu           sync.RWMutex
	basePath     string
	file         *os.File
	w            *csv.Writer
	filename     string
	recording    bool
	rowCount     uint64
	bytesWritten uint64
	startTime    time.Time
}

// NewCSVWriter creates a writer rooted at basePath
func NewCSVWriter(basePath string) *CSVWriter {
	return &CSVWriter{basePath: basePath}
}

// Start opens a new file named after now and writes the header
func (c *CSVWriter) Start(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return fmt.Errorf("already recording")
	}

	filename := fmt.Sprintf("training_%s.csv", now.Format("20060102_150405"))
	file, err := os.OpenFile(filepath.Join(c.basePath, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	c.file = file
	c.w = csv.NewWriter(countingWriter{w: file, n: &c.bytesWritten})
	c.filename = filename
	c.recording = true
	c.rowCount = 0
	c.bytesWritten = 0
	c.startTime = now

	if err := c.writeLocked(Header); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

// Append writes one row and flushes it
func (c *CSVWriter) Append(_ context.Context, rec session.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return fmt.Errorf("not recording")
	}
	if err := c.writeLocked(row(rec)); err != nil {
		return err
	}
	c.rowCount++
	return nil
}

func row(rec session.Record) []string {
	return []string{
		strconv.Itoa(rec.Count),
		rec.Date(),
		rec.Clock(),
		rec.Level,
		strconv.FormatFloat(rec.DerivedAngle, 'f', -1, 64),
	}
}

func (c *CSVWriter) writeLocked(fields []string) error {
	if err := c.w.Write(fields); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush row: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n *uint64
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	*cw.n += uint64(n)
	return n, err
}

// Stop syncs and closes the current file
func (c *CSVWriter) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return fmt.Errorf("not recording")
	}
	if err := c.file.Sync(); err != nil {
		c.closeLocked()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return c.closeLocked()
}

func (c *CSVWriter) closeLocked() error {
	c.recording = false
	err := c.file.Close()
	c.file = nil
	c.w = nil
	if err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// IsRecording returns true while a file is open
func (c *CSVWriter) IsRecording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// Path returns the full path of the current or last file
func (c *CSVWriter) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filename == "" {
		return ""
	}
	return filepath.Join(c.basePath, c.filename)
}

// GetStatus returns the current writer status
func (c *CSVWriter) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		Recording:    c.recording,
		Filename:     c.filename,
		RowCount:     c.rowCount,
		BytesWritten: c.bytesWritten,
		StartTime:    c.startTime,
	}
}

// Close stops the writer if it is recording
func (c *CSVWriter) Close() error {
	if c.IsRecording() {
		return c.Stop()
	}
	return nil
}

// Status holds the current CSV writer status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	RowCount     uint64    `json:"row_count"`
	BytesWritten uint64    `json:"bytes_written"`
	StartTime    time.Time `json:"start_time"`
}
