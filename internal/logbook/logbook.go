// Package logbook implements the shared, append-only log surface modules report through.
package logbook

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
	"github.com/ashureev/batteryshell/internal/events"
)

// TimestampLayout is the layout used for entry timestamps and text export.
const TimestampLayout = "2006-01-02 15:04:05.000"

var linePattern = regexp.MustCompile(`^\[([^\]]+)\] ?(.*)$`)

// Book is an ordered log. Entries are only removed by Clear or Replace.
type Book struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	clock   clock.Clock
	pub     events.Publisher
	logger  *slog.Logger
}

// New creates an empty log book.
func New(c clock.Clock, pub events.Publisher, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		clock:  clock.OrReal(c),
		pub:    events.OrNop(pub),
		logger: logger,
	}
}

// Add appends an entry stamped with the current time.
// Line breaks are folded to spaces so the text export stays one entry per line.
func (b *Book) Add(message string, severity domain.Severity) domain.LogEntry {
	if severity == "" {
		severity = domain.SeverityInfo
	}
	entry := domain.LogEntry{
		Timestamp: b.clock.Now().Format(TimestampLayout),
		Message:   foldLines(message),
		Severity:  severity,
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	b.logger.Debug("Log entry added", "severity", severity, "message", entry.Message)
	b.pub.Publish(events.TypeLog, "logbook", entry)
	return entry
}

// Info appends an info entry.
func (b *Book) Info(format string, args ...any) {
	b.Add(fmt.Sprintf(format, args...), domain.SeverityInfo)
}

// Success appends a success entry.
func (b *Book) Success(format string, args ...any) {
	b.Add(fmt.Sprintf(format, args...), domain.SeveritySuccess)
}

// Warn appends a warning entry.
func (b *Book) Warn(format string, args ...any) {
	b.Add(fmt.Sprintf(format, args...), domain.SeverityWarning)
}

// Error appends an error entry.
func (b *Book) Error(format string, args ...any) {
	b.Add(fmt.Sprintf(format, args...), domain.SeverityError)
}

// Entries returns a copy of the log in insertion order.
func (b *Book) Entries() []domain.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear removes every entry.
func (b *Book) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
	b.pub.Publish(events.TypeLogCleared, "logbook", nil)
}

// Replace swaps the whole log for entries.
func (b *Book) Replace(entries []domain.LogEntry) {
	b.mu.Lock()
	b.entries = append([]domain.LogEntry(nil), entries...)
	b.mu.Unlock()
	b.pub.Publish(events.TypeLogCleared, "logbook", nil)
	for _, e := range entries {
		b.pub.Publish(events.TypeLog, "logbook", e)
	}
}

// ExportText writes the log as "[timestamp] message" lines.
func (b *Book) ExportText(w io.Writer) (int, error) {
	entries := b.Entries()
	if err := WriteText(w, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ImportText replaces the log with the entries parsed from r and returns how many were loaded.
func (b *Book) ImportText(r io.Reader) (int, error) {
	entries, err := ParseText(r)
	if err != nil {
		return 0, err
	}
	b.Replace(entries)
	return len(entries), nil
}

// WriteText renders entries in the plain-text export format.
func WriteText(w io.Writer, entries []domain.LogEntry) error {
	bw := bufio.NewWriter(w)
	for i, e := range entries {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "[%s] %s", e.Timestamp, e.Message); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseText reads the plain-text export format. Blank or malformed lines are skipped,
// and every entry comes back with info severity since the format does not carry it.
func ParseText(r io.Reader) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entries = append(entries, domain.LogEntry{
			Timestamp: m[1],
			Message:   m[2],
			Severity:  domain.SeverityInfo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log text: %w", err)
	}
	return entries, nil
}

func foldLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
