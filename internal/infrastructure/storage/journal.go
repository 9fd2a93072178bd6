package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crablduck/crm-spyder/internal/domain"
)

const journalName = "seen_keys.jsonl"

type journalEntry struct {
	Key string `json:"key"`
}

// SeenJournal is the append-only cross-run record of persisted keys.
// It seeds the deduplicator on the next run.
type SeenJournal struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenSeenJournal opens (creating if needed) the journal under dir.
func OpenSeenJournal(dir string) (*SeenJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(dir, journalName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open seen journal: %w", err)
	}
	return &SeenJournal{path: path, file: file}, nil
}

// Load reads every previously journaled key.
func (j *SeenJournal) Load() ([]domain.RecordKey, error) {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open seen journal: %w", err)
	}
	defer file.Close()

	var keys []domain.RecordKey
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// A torn tail line from a crashed run is expected; stop there.
			break
		}
		keys = append(keys, domain.RecordKey(entry.Key))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan seen journal: %w", err)
	}
	return keys, nil
}

// Append journals one key durably.
func (j *SeenJournal) Append(key domain.RecordKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("seen journal closed")
	}

	line, err := json.Marshal(journalEntry{Key: key.String()})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Close syncs and releases the journal file.
func (j *SeenJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		j.file = nil
		return fmt.Errorf("sync seen journal: %w", err)
	}
	err := j.file.Close()
	j.file = nil
	return err
}
