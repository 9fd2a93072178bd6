package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
)

type fakeRepo struct {
	profiles []domain.CustomerProfileRecord
	written  []domain.CustomerProfileRecord
	loadErr  error
}

func (r *fakeRepo) Load(ctx context.Context) ([]domain.CustomerProfileRecord, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]domain.CustomerProfileRecord, len(r.profiles))
	copy(out, r.profiles)
	return out, nil
}

func (r *fakeRepo) WriteNew(ctx context.Context, profiles []domain.CustomerProfileRecord) (string, error) {
	r.written = make([]domain.CustomerProfileRecord, len(profiles))
	copy(r.written, profiles)
	return "/tmp/profiles_merged.csv", nil
}

func classifiedFor(hospitalID, title, category string, contract *domain.ContractInfo) domain.ClassifiedRecord {
	return domain.ClassifiedRecord{
		HospitalID: hospitalID,
		Categories: []string{category},
		Detail: domain.DetailRecord{
			Item:     domain.SearchResultItem{Title: title},
			Title:    title,
			Contract: contract,
		},
	}
}

func newTestIntegrator(repo *fakeRepo) *Integrator {
	integ := NewIntegrator(repo, nil)
	integ.now = func() time.Time { return time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC) }
	return integ
}

func TestIntegrateAppendsDatedNote(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{profiles: []domain.CustomerProfileRecord{
		{HospitalID: "h1", Name: "市立医院", SystemsBuilt: "[2025-01-10] EMR: 旧公告"},
	}}
	integ := newTestIntegrator(repo)

	records := []domain.ClassifiedRecord{
		classifiedFor("h1", "检验系统采购合同公告", "LIS", &domain.ContractInfo{ContractNumber: "HT-2026-01", Supplier: "某某公司"}),
	}
	path, stats, err := integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if path == "" {
		t.Fatalf("expected artifact path")
	}
	if stats.FactsAdded != 1 || stats.FactsSkipped != 0 || stats.Unmatched != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	got := repo.written[0].SystemsBuilt
	want := "[2025-01-10] EMR: 旧公告 | [2026-08-21] LIS: HT-2026-01 (某某公司)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestIntegrateSkipsKnownFact(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{profiles: []domain.CustomerProfileRecord{
		{HospitalID: "h1", Name: "市立医院", SystemsBuilt: "[2025-01-10] LIS: HT-2026-01 (某某公司)"},
	}}
	integ := newTestIntegrator(repo)

	records := []domain.ClassifiedRecord{
		classifiedFor("h1", "检验系统采购合同公告", "LIS", &domain.ContractInfo{ContractNumber: "HT-2026-01", Supplier: "某某公司"}),
	}
	_, stats, err := integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if stats.FactsAdded != 0 || stats.FactsSkipped != 1 {
		t.Fatalf("expected fact to be skipped, stats: %+v", stats)
	}
	if got := repo.written[0].SystemsBuilt; got != repo.profiles[0].SystemsBuilt {
		t.Fatalf("profile mutated: %q", got)
	}
}

func TestIntegrateAddsFactPrefixingRecordedOne(t *testing.T) {
	t.Parallel()

	// HT-1 is a prefix of the recorded HT-12 but a different contract,
	// so it must be appended, not skipped.
	repo := &fakeRepo{profiles: []domain.CustomerProfileRecord{
		{HospitalID: "h1", Name: "市立医院", SystemsBuilt: "[2025-01-10] LIS: HT-12"},
	}}
	integ := newTestIntegrator(repo)

	records := []domain.ClassifiedRecord{
		classifiedFor("h1", "检验系统采购合同公告", "LIS", &domain.ContractInfo{ContractNumber: "HT-1"}),
	}
	_, stats, err := integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if stats.FactsAdded != 1 || stats.FactsSkipped != 0 {
		t.Fatalf("expected prefix fact to be added, stats: %+v", stats)
	}

	got := repo.written[0].SystemsBuilt
	want := "[2025-01-10] LIS: HT-12 | [2026-08-21] LIS: HT-1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	// The exact fact seen again in the merged result is still skipped.
	repo.profiles[0].SystemsBuilt = got
	_, stats, err = integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if stats.FactsAdded != 0 || stats.FactsSkipped != 1 {
		t.Fatalf("expected exact fact to be skipped, stats: %+v", stats)
	}
}

func TestIntegrateCountsUnmatchedRecords(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{profiles: []domain.CustomerProfileRecord{
		{HospitalID: "h1", Name: "市立医院"},
	}}
	integ := newTestIntegrator(repo)

	records := []domain.ClassifiedRecord{
		classifiedFor("h9", "无主公告", "HIS", nil),
	}
	_, stats, err := integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if stats.Unmatched != 1 || stats.FactsAdded != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIntegrateFallsBackToTitleWithoutContract(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{profiles: []domain.CustomerProfileRecord{
		{HospitalID: "h1", Name: "市立医院"},
	}}
	integ := newTestIntegrator(repo)

	records := []domain.ClassifiedRecord{
		classifiedFor("h1", "HIS系统升级公告", "HIS", nil),
	}
	_, stats, err := integ.Integrate(context.Background(), records)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if stats.FactsAdded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := repo.written[0].SystemsBuilt; !strings.Contains(got, "HIS: HIS系统升级公告") {
		t.Fatalf("expected title-based fact, got %q", got)
	}
}

func TestCSVRepositoryWritesNewArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	master := filepath.Join(dir, "customers.csv")
	content := "id,name,aliases,systems_built\nh1,市立医院,福州市立医院|市一医院,[2025-01-10] EMR: 旧公告\nh2,协和医院,,\n"
	if err := os.WriteFile(master, []byte(content), 0o644); err != nil {
		t.Fatalf("seed master: %v", err)
	}

	repo := NewCSVRepository(master)
	profiles, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].SystemsBuilt != "[2025-01-10] EMR: 旧公告" {
		t.Fatalf("unexpected systems_built: %q", profiles[0].SystemsBuilt)
	}

	path, err := repo.WriteNew(context.Background(), profiles)
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if path == master {
		t.Fatalf("artifact path must differ from master")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	// The master dataset is untouched.
	raw, err := os.ReadFile(master)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if string(raw) != content {
		t.Fatalf("master dataset was modified")
	}

	roster := Roster(profiles)
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(roster))
	}
	if len(roster[0].Aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %v", roster[0].Aliases)
	}
}
