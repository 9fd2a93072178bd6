package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

const noteSeparator = " | "

// Integrator merges classified records into the customer master
// dataset. Updates are additive: a dated note per newly observed
// category/contract fact, never a silent overwrite.
type Integrator struct {
	repo   ports.ProfileRepository
	logger *slog.Logger
	now    func() time.Time
}

// Stats summarizes one integration pass.
type Stats struct {
	Records      int
	FactsAdded   int
	FactsSkipped int
	Unmatched    int
}

// NewIntegrator wires the profile repository.
func NewIntegrator(repo ports.ProfileRepository, logger *slog.Logger) *Integrator {
	return &Integrator{repo: repo, logger: logger, now: time.Now}
}

// Integrate loads the current profiles, folds the batch in, and writes
// a new artifact. The input dataset is never modified.
func (i *Integrator) Integrate(ctx context.Context, records []domain.ClassifiedRecord) (string, Stats, error) {
	profiles, err := i.repo.Load(ctx)
	if err != nil {
		return "", Stats{}, fmt.Errorf("load profiles: %w", err)
	}

	index := make(map[string]int, len(profiles))
	for idx, p := range profiles {
		index[p.HospitalID] = idx
	}

	stats := Stats{Records: len(records)}
	date := i.now().Format("2006-01-02")

	for _, rec := range records {
		idx, ok := index[rec.HospitalID]
		if !ok {
			stats.Unmatched++
			i.debug("record for unknown hospital", "hospital_id", rec.HospitalID, "title", rec.Detail.Item.Title)
			continue
		}

		known := existingFacts(profiles[idx].SystemsBuilt)
		for _, category := range rec.Categories {
			fact := factToken(category, rec)
			if known[fact] {
				stats.FactsSkipped++
				continue
			}
			known[fact] = true

			note := fmt.Sprintf("[%s] %s", date, fact)
			if profiles[idx].SystemsBuilt == "" {
				profiles[idx].SystemsBuilt = note
			} else {
				profiles[idx].SystemsBuilt += noteSeparator + note
			}
			stats.FactsAdded++
		}
	}

	path, err := i.repo.WriteNew(ctx, profiles)
	if err != nil {
		return "", stats, fmt.Errorf("write profiles: %w", err)
	}
	return path, stats, nil
}

// existingFacts splits a SystemsBuilt column into its bare fact tokens,
// dropping each note's dated prefix. Facts compare by equality: a token
// that merely prefixes a recorded one is still new.
func existingFacts(systemsBuilt string) map[string]bool {
	facts := make(map[string]bool)
	for _, note := range strings.Split(systemsBuilt, noteSeparator) {
		note = strings.TrimSpace(note)
		if note == "" {
			continue
		}
		if strings.HasPrefix(note, "[") {
			if end := strings.Index(note, "] "); end >= 0 {
				note = note[end+2:]
			}
		}
		facts[note] = true
	}
	return facts
}

// factToken identifies a fact for dedup: category plus contract number
// when available, category plus announcement title otherwise. The same
// fact observed again in a later batch is skipped, not duplicated.
func factToken(category string, rec domain.ClassifiedRecord) string {
	ref := rec.Detail.Item.Title
	if rec.Detail.Contract != nil && rec.Detail.Contract.ContractNumber != "" {
		ref = rec.Detail.Contract.ContractNumber
	}
	token := category + ": " + ref
	if rec.Detail.Contract != nil && rec.Detail.Contract.Supplier != "" {
		token += " (" + rec.Detail.Contract.Supplier + ")"
	}
	return token
}

func (i *Integrator) debug(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Debug(msg, args...)
	}
}
