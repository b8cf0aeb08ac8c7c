package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfoundry/modelgate/internal/canonical"
)

const headFileName = "head.hash"

// FileLog is the file-backed audit log. Each event is one JSON file
// named by append order, and head.hash tracks the chain head.
type FileLog struct {
	dir string
	mu  sync.Mutex
}

func NewFileLog(dir string) *FileLog {
	_ = os.MkdirAll(dir, 0o755)
	return &FileLog{dir: dir}
}

// Append canonicalizes the event payload, links it to the current chain
// head and persists it. The event's ID, Ts, PrevHash and Hash fields are
// filled in.
func (l *FileLog) Append(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	canon, err := canonical.MarshalCanonical(ev.Payload)
	if err != nil {
		return fmt.Errorf("canonicalize payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.readHead()
	hash, err := chainHash(canon, prev)
	if err != nil {
		return err
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	ev.PrevHash = prev
	ev.Hash = hash

	b, _ := json.MarshalIndent(ev, "", "  ")
	name := fmt.Sprintf("audit_%020d_%s.json", ev.Ts.UnixNano(), ev.ID)
	if err := os.WriteFile(filepath.Join(l.dir, name), b, 0o644); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, headFileName), []byte(ev.Hash), 0o644); err != nil {
		return fmt.Errorf("write head.hash: %w", err)
	}
	return nil
}

// Head returns the current chain head hash, empty for a fresh log.
func (l *FileLog) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readHead()
}

// Get loads one event by ID.
func (l *FileLog) Get(ctx context.Context, id string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "audit_*_"+id+".json"))
	if err != nil {
		return nil, fmt.Errorf("glob audit files: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return readEvent(matches[0])
}

// List returns all events in append order.
func (l *FileLog) List(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list audit dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "audit_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	events := make([]Event, 0, len(names))
	for _, name := range names {
		ev, err := readEvent(filepath.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// Verify walks the log in append order and recomputes the chain:
// every event's hash must equal SHA-256(canonical(payload) || prevHash
// bytes), every prev_hash must match its predecessor, and head.hash must
// name the final event. Any rewrite, reorder or truncation fails here.
func (l *FileLog) Verify(ctx context.Context) error {
	events, err := l.List(ctx)
	if err != nil {
		return err
	}
	prev := ""
	for i, ev := range events {
		if ev.PrevHash != prev {
			return fmt.Errorf("event %s (index %d): prev_hash %q, chain expects %q", ev.ID, i, ev.PrevHash, prev)
		}
		canon, err := canonical.MarshalCanonical(ev.Payload)
		if err != nil {
			return fmt.Errorf("canonicalize payload for %s: %w", ev.ID, err)
		}
		computed, err := chainHash(canon, prev)
		if err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if computed != ev.Hash {
			return fmt.Errorf("event %s (type=%s): hash mismatch, computed=%s stored=%s", ev.ID, ev.Action, computed, ev.Hash)
		}
		prev = ev.Hash
	}
	if head := l.Head(); head != prev {
		return fmt.Errorf("head.hash %q does not match final event hash %q", head, prev)
	}
	return nil
}

func (l *FileLog) readHead() string {
	b, err := os.ReadFile(filepath.Join(l.dir, headFileName))
	if err != nil {
		return ""
	}
	return string(b)
}

func chainHash(canon []byte, prevHex string) (string, error) {
	concat := append([]byte(nil), canon...)
	if prevHex != "" {
		prevBytes, err := hex.DecodeString(prevHex)
		if err != nil {
			return "", fmt.Errorf("decode prev hash: %w", err)
		}
		concat = append(concat, prevBytes...)
	}
	sum := sha256.Sum256(concat)
	return hex.EncodeToString(sum[:]), nil
}

func readEvent(path string) (*Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("parse audit file %s: %w", filepath.Base(path), err)
	}
	return &ev, nil
}
