// Package storage persists crawl batches and checkpoints. Persistence
// failures here are fatal for a run: silent data loss is unacceptable.
package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
)

const (
	recordsJSONL = "records.jsonl"
	recordsCSV   = "records.csv"
)

// BatchStore writes one run's accepted records under a timestamped
// namespace, partitioned per hospital so concurrent workers never share
// a file. JSONL lines are flushed at a fixed cadence so that a crash
// mid-run loses at most the unflushed tail.
type BatchStore struct {
	runDir     string
	flushEvery int

	mu         sync.Mutex
	partitions map[string]*partition
	closed     bool
}

type partition struct {
	file      *os.File
	writer    *bufio.Writer
	unflushed int
	records   []domain.ClassifiedRecord
}

// NewBatchStore creates the run namespace directory.
func NewBatchStore(outputDir, runID string, flushEvery int) (*BatchStore, error) {
	if flushEvery <= 0 {
		flushEvery = 10
	}
	runDir := filepath.Join(outputDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &BatchStore{
		runDir:     runDir,
		flushEvery: flushEvery,
		partitions: make(map[string]*partition),
	}, nil
}

// Dir returns the run namespace path.
func (s *BatchStore) Dir() string {
	return s.runDir
}

// Append persists one record to its hospital partition.
func (s *BatchStore) Append(rec domain.ClassifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("batch store closed")
	}

	part, err := s.partition(rec.HospitalID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := part.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	part.records = append(part.records, rec)
	part.unflushed++
	if part.unflushed >= s.flushEvery {
		if err := flushPartition(part); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes every partition and writes the flat CSV views.
func (s *BatchStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for hospitalID, part := range s.partitions {
		if err := flushPartition(part); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := part.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close partition %s: %w", hospitalID, err)
		}
		if err := s.writeCSV(hospitalID, part.records); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *BatchStore) partition(hospitalID string) (*partition, error) {
	if part, ok := s.partitions[hospitalID]; ok {
		return part, nil
	}

	dir := filepath.Join(s.runDir, hospitalID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, recordsJSONL), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partition: %w", err)
	}

	part := &partition{file: file, writer: bufio.NewWriter(file)}
	s.partitions[hospitalID] = part
	return part, nil
}

func flushPartition(part *partition) error {
	if err := part.writer.Flush(); err != nil {
		return fmt.Errorf("flush partition: %w", err)
	}
	if err := part.file.Sync(); err != nil {
		return fmt.Errorf("sync partition: %w", err)
	}
	part.unflushed = 0
	return nil
}

func (s *BatchStore) writeCSV(hospitalID string, records []domain.ClassifiedRecord) error {
	if len(records) == 0 {
		return nil
	}

	path := filepath.Join(s.runDir, hospitalID, recordsCSV)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{
		"hospital_id", "district", "procurement_method", "procurement_unit",
		"title", "detail_url", "publish_time", "categories",
		"contract_number", "supplier", "contract_amount", "crawl_time",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		var number, supplier, amount string
		if rec.Detail.Contract != nil {
			number = rec.Detail.Contract.ContractNumber
			supplier = rec.Detail.Contract.Supplier
			amount = rec.Detail.Contract.Amount
		}
		row := []string{
			rec.HospitalID,
			rec.Detail.Item.District,
			rec.Detail.Item.Method,
			rec.Detail.Item.Unit,
			rec.Detail.Item.Title,
			rec.Detail.Item.DetailURL,
			rec.Detail.PublishTime,
			strings.Join(rec.Categories, "|"),
			number,
			supplier,
			amount,
			rec.Detail.CrawledAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadBatch reads every partition of a persisted run back into memory.
// Together with Append this round-trips all record fields.
func ReadBatch(runDir string) ([]domain.ClassifiedRecord, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var out []domain.ClassifiedRecord
	for _, name := range names {
		path := filepath.Join(runDir, name, recordsJSONL)
		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("open partition %s: %w", name, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec domain.ClassifiedRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				file.Close()
				return nil, fmt.Errorf("decode record in %s: %w", name, err)
			}
			out = append(out, rec)
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return nil, fmt.Errorf("scan partition %s: %w", name, err)
		}
		file.Close()
	}
	return out, nil
}
