package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"debuglog/config"
	"debuglog/internal/ratelimit"
)

const (
	diagStampLayout  = "2006/01/02 15:04:05"
	diagFilePrefix   = "debuglog-"
	diagDayLayout    = "2006-01-02"
	maxPendingBytes  = 16 * 1024
	fileErrorEvery   = time.Minute
	defaultKeepDays  = 7
	rolloverLineHead = "Logging: continued from "
)

// diagLog is the writer behind the standard logger. Each complete line goes
// to the terminal side (stderr, or the viewer's status line while the viewer
// owns the screen) and, when logging is enabled, to a per-day file. Relayed
// events never pass through here.
type diagLog struct {
	mu       sync.Mutex
	pending  []byte
	terminal io.Writer
	stamp    bool
	viewer   bool
	file     *dayFile
	stats    func() []string
	now      func() time.Time
}

// Purpose: Build the diagnostic log from config.
// Key aspects: A file that cannot be prepared is reported, and the terminal
// side keeps working.
// Upstream: main startup.
// Downstream: openDayFile.
func newDiagLog(cfg config.LoggingConfig, stderr io.Writer) (*diagLog, error) {
	d := &diagLog{terminal: stderr, stamp: true, now: time.Now}
	if !cfg.Enabled {
		return d, nil
	}
	file, err := openDayFile(cfg.Dir, cfg.RetentionDays, stderr)
	if err != nil {
		return d, err
	}
	d.file = file
	return d, nil
}

// showOnViewer sends terminal output to w, unstamped. Periodic stats stay in
// the file until restoreTerminal.
func (d *diagLog) showOnViewer(w io.Writer) {
	d.mu.Lock()
	d.terminal, d.stamp, d.viewer = w, false, true
	d.mu.Unlock()
}

func (d *diagLog) restoreTerminal(w io.Writer) {
	d.mu.Lock()
	d.terminal, d.stamp, d.viewer = w, true, false
	d.mu.Unlock()
}

// reportStatsFrom sets where stats lines come from, both for periodic reports
// and for the head of each new day's file.
func (d *diagLog) reportStatsFrom(source func() []string) {
	d.mu.Lock()
	d.stats = source
	d.mu.Unlock()
}

func (d *diagLog) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.pending = append(d.pending, p...)
	var lines []string
	consumed := 0
	for {
		idx := bytes.IndexByte(d.pending[consumed:], '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(d.pending[consumed:consumed+idx]), "\r"))
		consumed += idx + 1
	}
	d.pending = append(d.pending[:0], d.pending[consumed:]...)
	if len(d.pending) > maxPendingBytes {
		lines = append(lines, strings.TrimRight(string(d.pending), "\r"))
		d.pending = d.pending[:0]
	}

	now := d.now()
	rolledFrom := ""
	for _, line := range lines {
		d.toTerminalLocked(line, now)
		if prev := d.file.append(line, now); prev != "" {
			rolledFrom = prev
		}
	}
	d.mu.Unlock()

	if rolledFrom != "" {
		d.rolledOver(rolledFrom)
	}
	return len(p), nil
}

func (d *diagLog) toTerminalLocked(line string, now time.Time) {
	if d.terminal == nil {
		return
	}
	if d.stamp {
		line = now.Local().Format(diagStampLayout) + " " + line
	}
	_, _ = io.WriteString(d.terminal, line+"\n")
}

// fileOnly records line in the day file without touching the terminal.
func (d *diagLog) fileOnly(line string) {
	d.mu.Lock()
	prev := d.file.append(line, d.now())
	d.mu.Unlock()
	if prev != "" {
		d.rolledOver(prev)
	}
}

// rolledOver opens a new day's file with a pointer to the previous one and
// the current stats, so each file reads on its own.
func (d *diagLog) rolledOver(prev string) {
	d.fileOnly(rolloverLineHead + prev)
	d.mu.Lock()
	source := d.stats
	d.mu.Unlock()
	if source == nil {
		return
	}
	for _, line := range source() {
		d.fileOnly(line)
	}
}

// Purpose: Emit one stats report.
// Key aspects: While the viewer owns the terminal the report goes to the file
// only, so it does not replace relay messages on the status line.
// Upstream: runStats, main shutdown.
// Downstream: stats source, diagLog.Write or diagLog.fileOnly.
func (d *diagLog) emitStats() {
	d.mu.Lock()
	source, viewer := d.stats, d.viewer
	d.mu.Unlock()
	if source == nil {
		return
	}
	for _, line := range source() {
		if viewer {
			d.fileOnly(line)
			continue
		}
		_, _ = d.Write([]byte(line + "\n"))
	}
}

// runStats emits a stats report every interval until ctx is done. A
// non-positive interval disables periodic reports.
func (d *diagLog) runStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.emitStats()
		}
	}
}

// Close flushes a trailing partial line and closes the day file.
func (d *diagLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		line := strings.TrimRight(string(d.pending), "\r")
		d.pending = d.pending[:0]
		now := d.now()
		d.toTerminalLocked(line, now)
		d.file.append(line, now)
	}
	return d.file.close()
}

// dayFile holds one log file per UTC day and prunes days past retention.
// It is not locked on its own; diagLog.mu serializes every call.
type dayFile struct {
	dir      string
	keepDays int
	day      string
	path     string
	f        *os.File
	errOut   io.Writer
	errLog   *ratelimit.Counter
}

func openDayFile(dir string, keepDays int, errOut io.Writer) (*dayFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("log directory is empty")
	}
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	return &dayFile{
		dir:      dir,
		keepDays: keepDays,
		errOut:   errOut,
		errLog:   ratelimit.NewCounter(fileErrorEvery),
	}, nil
}

// append writes one stamped line, switching files when the UTC day changes.
// It returns the previous file's path when a switch happened.
func (f *dayFile) append(line string, now time.Time) (rolledFrom string) {
	if f == nil {
		return ""
	}
	day := now.UTC().Format(diagDayLayout)
	if f.f == nil || f.day != day {
		prev := f.path
		if err := f.switchTo(day, now); err != nil {
			f.complain(err)
			return ""
		}
		if prev != "" && prev != f.path {
			rolledFrom = prev
		}
	}
	if _, err := f.f.WriteString(now.Local().Format(diagStampLayout) + " " + line + "\n"); err != nil {
		f.complain(fmt.Errorf("write %s: %w", f.path, err))
	}
	return rolledFrom
}

func (f *dayFile) switchTo(day string, now time.Time) error {
	if f.f != nil {
		_ = f.f.Close()
		f.f = nil
	}
	path := filepath.Join(f.dir, dayFileName(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	f.f, f.day, f.path = file, day, path
	if err := pruneDayFiles(f.dir, now, f.keepDays); err != nil {
		f.complain(fmt.Errorf("prune %s: %w", f.dir, err))
	}
	return nil
}

func (f *dayFile) complain(err error) {
	if f.errOut == nil {
		return
	}
	if total, ok := f.errLog.Inc(); ok {
		fmt.Fprintf(f.errOut, "Logging: %v (file errors: %d)\n", err, total)
	}
}

func (f *dayFile) close() error {
	if f == nil || f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f, f.day = nil, ""
	return err
}

func dayFileName(t time.Time) string {
	return diagFilePrefix + t.UTC().Format(diagDayLayout) + ".log"
}

func dayOfFile(name string) (time.Time, bool) {
	stem, ok := strings.CutPrefix(name, diagFilePrefix)
	if !ok {
		return time.Time{}, false
	}
	stem, ok = strings.CutSuffix(stem, ".log")
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(diagDayLayout, stem, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// pruneDayFiles removes day files older than keepDays, counting today.
// Other files in dir are left alone.
func pruneDayFiles(dir string, now time.Time, keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(keepDays - 1))
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := dayOfFile(entry.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
