package gates

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoShadowData reports that the shadow log directory does not exist,
// which is "no data yet" rather than "zero trades".
var ErrNoShadowData = errors.New("no shadow data")

// ShadowCounter counts trade records in the shadow log directory: one
// JSON object per line, files suffixed .jsonl. Records carry an RFC3339
// ts field used for window filtering.
type ShadowCounter struct {
	dir string
}

func NewShadowCounter(dir string) *ShadowCounter {
	return &ShadowCounter{dir: dir}
}

type shadowRecord struct {
	Ts time.Time `json:"ts"`
}

// Count returns the number of trade records with ts at or after since.
// A zero since counts every record. Lines whose timestamp cannot be
// parsed are counted only in the unwindowed case; they cannot be placed
// inside a window.
func (s *ShadowCounter) Count(ctx context.Context, since time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNoShadowData, s.dir)
		}
		return 0, fmt.Errorf("read shadow dir: %w", err)
	}
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := countFile(filepath.Join(s.dir, entry.Name()), since)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func countFile(path string, since time.Time) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open shadow log: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if since.IsZero() {
			count++
			continue
		}
		var rec shadowRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Ts.IsZero() {
			continue
		}
		if !rec.Ts.Before(since) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan shadow log %s: %w", filepath.Base(path), err)
	}
	return count, nil
}
