// Package rawlog manages the raw append source: a JSONL file fed by
// upstream bridges plus the byte-offset cursor the collector resumes from.
//
// Appends takes an exclusive file lock so concurrent bridge processes never
// interleave partial lines; readers need no lock because the file is
// append-only and the offset cursor is private to the single collector.
package rawlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/voxgate/voxgate/internal/flock"
)

// ParseInput accepts a whole-document JSON object, a JSON array, or JSONL
// text and returns the individual objects. Non-object entries and lines
// that fail to parse are dropped; this is the append side, parse failures
// of already-appended lines are the collector's dead-letter concern.
func ParseInput(text []byte) []json.RawMessage {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil
	}

	// Whole-document JSON first.
	var single map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return []json.RawMessage{compact(trimmed)}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err == nil {
		out := make([]json.RawMessage, 0, len(list))
		for _, item := range list {
			var obj map[string]json.RawMessage
			if json.Unmarshal(item, &obj) == nil {
				out = append(out, compact(item))
			}
		}
		return out
	}

	// Fallback: JSONL.
	var out []json.RawMessage
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(line, &obj) != nil {
			continue
		}
		out = append(out, compact(line))
	}
	return out
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(append([]byte(nil), raw...))
	}
	return json.RawMessage(append([]byte(nil), buf.Bytes()...))
}

// Append writes one object per line to the raw log under an exclusive lock.
// Returns the number of lines appended.
func Append(path, lockPath string, objs []json.RawMessage) (int, error) {
	if len(objs) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("acquire append lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, obj := range objs {
		if _, err := w.Write(obj); err != nil {
			return 0, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return len(objs), nil
}

// ReadOffset reads the persisted byte offset; missing or malformed files
// mean start from the beginning.
func ReadOffset(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// WriteOffset persists the byte offset.
func WriteOffset(path string, v int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644)
}

// ReadBatch reads all lines currently available after offset and returns
// them verbatim together with the new offset. An offset past the end of the
// file means the log was rotated or truncated; reading restarts from zero.
func ReadBatch(path string, offset int64) ([][]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	var lines [][]byte
	r := bufio.NewReader(f)
	pos := offset
	for {
		line, err := r.ReadBytes('\n')
		pos += int64(len(line))
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			lines = append(lines, append([]byte(nil), trimmed...))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return lines, pos, err
		}
	}
	return lines, pos, nil
}
