// Package ledger is the durable, append-only local message history. One UTF-8
// text file per conversation, one record per line; lines are never rewritten
// or reordered. The relay never stores message bodies, so these files are the
// only history the client has.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TimeLayout is the on-disk timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one persisted message.
type Record struct {
	Sender     string
	Text       string
	IsAction   bool
	ReceivedAt time.Time
}

// Ledger appends and reads per-conversation message files under a base
// directory. The inbound dispatcher is the only writer; reads may run
// concurrently with an append.
type Ledger struct {
	dir string
	log *zerolog.Logger
}

// New returns a ledger rooted at dir. The directory is created on first append.
func New(dir string, logger *zerolog.Logger) *Ledger {
	return &Ledger{dir: dir, log: logger}
}

// Append writes one record to the conversation's file. Failures are logged
// and swallowed: a message that could not be persisted must not take the
// dispatcher down with it.
func (l *Ledger) Append(conversation string, rec Record) {
	if err := l.append(conversation, rec); err != nil {
		l.log.Warn().Err(err).Str("conversation", conversation).Msg("ledger append failed")
	}
}

func (l *Ledger) append(conversation string, rec Record) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	f, err := os.OpenFile(l.path(conversation), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(rec)); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return f.Sync()
}

// LoadRecent returns up to limit most recent records for the conversation, in
// file (receipt) order. A missing file is an empty history, not an error.
func (l *Ledger) LoadRecent(conversation string, limit int) ([]Record, error) {
	f, err := os.Open(l.path(conversation))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, ok := ParseLine(line)
		if !ok {
			// Unparseable lines are skipped, never fatal.
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read ledger file: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (l *Ledger) path(conversation string) string {
	return filepath.Join(l.dir, SanitizeName(conversation)+".txt")
}

// FormatLine renders one record as its on-disk line, including the trailing
// newline. Action messages omit the "; " after the sender.
func FormatLine(rec Record) string {
	ts := rec.ReceivedAt.Format(TimeLayout)
	if rec.IsAction {
		return fmt.Sprintf("%s %s ; %s\n", rec.Sender, rec.Text, ts)
	}
	return fmt.Sprintf("%s; %s ; %s\n", rec.Sender, rec.Text, ts)
}

// ParseLine parses one ledger line. The timestamp is always the last " ; "
// delimited field; a record is an action iff the remaining content has no
// "; " after the sender token.
func ParseLine(line string) (Record, bool) {
	parts := strings.Split(line, " ; ")
	if len(parts) < 2 {
		return Record{}, false
	}

	tsField := parts[len(parts)-1]
	ts, err := time.Parse(TimeLayout, tsField)
	if err != nil {
		return Record{}, false
	}
	content := strings.Join(parts[:len(parts)-1], " ; ")

	rec := Record{ReceivedAt: ts}
	if sender, text, found := strings.Cut(content, "; "); found {
		rec.Sender = sender
		rec.Text = text
		return rec, true
	}

	sender, text, _ := strings.Cut(content, " ")
	if sender == "" {
		return Record{}, false
	}
	rec.Sender = sender
	rec.Text = text
	rec.IsAction = true
	return rec, true
}

// SanitizeName makes a conversation display name safe to use as a filename.
func SanitizeName(name string) string {
	if name == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"\x00", "_",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "unknown"
	}
	return cleaned
}
