// Package profile maintains the long-lived customer master dataset.
package profile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// CSVRepository reads the master dataset and writes merged results as a
// new timestamped artifact next to it. The input file is never touched:
// that guards against partial-write corruption and preserves the audit
// trail across runs.
type CSVRepository struct {
	masterPath string
	now        func() time.Time
}

var _ ports.ProfileRepository = (*CSVRepository)(nil)

// NewCSVRepository points at the customer master CSV.
func NewCSVRepository(masterPath string) *CSVRepository {
	return &CSVRepository{masterPath: masterPath, now: time.Now}
}

// Load reads every profile row. Columns: id, name, aliases, systems_built.
func (r *CSVRepository) Load(ctx context.Context) ([]domain.CustomerProfileRecord, error) {
	file, err := os.Open(r.masterPath)
	if err != nil {
		return nil, fmt.Errorf("open master dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read master dataset: %w", err)
	}

	var profiles []domain.CustomerProfileRecord
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		if len(row) < 2 {
			continue
		}
		p := domain.CustomerProfileRecord{
			HospitalID: strings.TrimSpace(row[0]),
			Name:       strings.TrimSpace(row[1]),
		}
		if len(row) > 2 {
			p.Aliases = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			p.SystemsBuilt = row[3]
		}
		if p.HospitalID == "" {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// WriteNew writes the merged profiles to a fresh timestamped file and
// returns its path.
func (r *CSVRepository) WriteNew(ctx context.Context, profiles []domain.CustomerProfileRecord) (string, error) {
	dir := filepath.Dir(r.masterPath)
	base := strings.TrimSuffix(filepath.Base(r.masterPath), filepath.Ext(r.masterPath))
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", base, r.now().Format("20060102_150405")))
	if path == r.masterPath {
		return "", fmt.Errorf("refusing to overwrite master dataset %s", r.masterPath)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create profile artifact: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"id", "name", "aliases", "systems_built"}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, p := range profiles {
		if err := w.Write([]string{p.HospitalID, p.Name, p.Aliases, p.SystemsBuilt}); err != nil {
			return "", fmt.Errorf("write profile %s: %w", p.HospitalID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush profile artifact: %w", err)
	}
	return path, nil
}

// Roster derives the crawl roster from the master dataset.
func Roster(profiles []domain.CustomerProfileRecord) []domain.Hospital {
	hospitals := make([]domain.Hospital, 0, len(profiles))
	for _, p := range profiles {
		h := domain.Hospital{ID: p.HospitalID, Name: p.Name}
		if p.Aliases != "" {
			h.Aliases = strings.Split(p.Aliases, "|")
		}
		hospitals = append(hospitals, h)
	}
	return hospitals
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(row[0]))
	return head == "id" || head == "hospital_id"
}
