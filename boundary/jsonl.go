package boundary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// maxLineBytes bounds one input record; extents and field lists are small,
// but upstream validation objects can carry long issue lists.
const maxLineBytes = 16 << 20

// ReadResult is the parsed input stream.
type ReadResult struct {
	Layers    []CandidateLayer
	Malformed int // lines that were not valid JSON
	Invalid   int // records missing required fields
}

// ReadCandidates parses a newline-delimited stream of candidate layers.
// Bad lines are counted and logged; only a read failure returns an error.
func ReadCandidates(r io.Reader, logger *slog.Logger) (ReadResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var out ReadResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var layer CandidateLayer
		if err := json.Unmarshal(raw, &layer); err != nil {
			out.Malformed++
			logger.Warn("skipping malformed input line", "line", line, "error", err)
			continue
		}
		if err := layer.Validate(); err != nil {
			out.Invalid++
			logger.Warn("skipping invalid input record", "line", line, "error", err)
			continue
		}
		out.Layers = append(out.Layers, layer)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("reading input: %w", err)
	}
	return out, nil
}

// writeJSONL writes one JSON document per line to path, replacing the file.
func writeJSONL[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			_ = f.Close()
			return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
