// Package history reads a session's persisted message log and reconstructs
// the user/assistant message graph needed to resolve rewind targets.
//
// The log is the Claude CLI's append-only JSONL transcript: one JSON record
// per line with uuid, parentUuid, type, and message.content fields. The
// parent link points to the preceding message in the conversation tree, which
// is not necessarily the previous line in the file. Real logs are sometimes
// malformed — bad lines, broken parent links, even cycles — so everything
// here tolerates damage: bad lines are skipped, never fatal.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"claudebridge/logger"
)

// MaxLineBytes bounds a single transcript line. Tool results can embed whole
// files, so lines run far past bufio's default.
const MaxLineBytes = 10 * 1024 * 1024

// ContentBlock is one typed block in a structured message content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ContentField holds message content that arrives either as a plain string
// or as an array of typed blocks.
type ContentField struct {
	// Text is populated when content was a plain string.
	Text string
	// Blocks is populated when content was an array.
	Blocks []ContentBlock
}

// UnmarshalJSON accepts both encodings of the content field.
func (c *ContentField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	return nil
}

// MessageRecord is one entry from the persisted session log.
type MessageRecord struct {
	UUID       string `json:"uuid"`
	ParentUUID string `json:"parentUuid"`
	Type       string `json:"type"` // "user", "assistant", "system", ...
	Message    struct {
		Content ContentField `json:"content"`
	} `json:"message"`
}

// IsUserText reports whether the record is a user message carrying non-empty
// text — a plain string or at least one text content block. These are the
// stopping points and fallback anchors for rewind candidate resolution.
func (r *MessageRecord) IsUserText() bool {
	if r.Type != "user" {
		return false
	}
	if strings.TrimSpace(r.Message.Content.Text) != "" {
		return true
	}
	for _, b := range r.Message.Content.Blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// Parse reads JSONL records from r, skipping malformed lines.
func Parse(r io.Reader, log *slog.Logger) []MessageRecord {
	if log == nil {
		log = logger.WithComponent("history")
	}

	var records []MessageRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec MessageRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Debug("skipping malformed transcript line", "line", lineNum, "error", err)
			continue
		}
		if rec.UUID == "" {
			log.Debug("skipping transcript line without uuid", "line", lineNum)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		// A torn tail is still usable history; log and return what we have.
		log.Warn("transcript scan stopped early", "line", lineNum, "error", err)
	}

	return records
}

// ReadSessionLog loads the persisted log at path.
func ReadSessionLog(path string, log *slog.Logger) ([]MessageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	return Parse(f, log), nil
}

// ByUUID builds a uuid → record lookup. Later duplicates of a uuid are
// ignored; the log is append-only and the first occurrence is authoritative.
func ByUUID(records []MessageRecord) map[string]MessageRecord {
	index := make(map[string]MessageRecord, len(records))
	for _, rec := range records {
		if _, ok := index[rec.UUID]; !ok {
			index[rec.UUID] = rec
		}
	}
	return index
}

// LatestUserTextMessage returns the most recent user text message in the
// log, scanning from the end.
func LatestUserTextMessage(records []MessageRecord) (MessageRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsUserText() {
			return records[i], true
		}
	}
	return MessageRecord{}, false
}
