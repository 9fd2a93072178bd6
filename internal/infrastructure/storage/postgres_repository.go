package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// PostgresRepository archives classified records and serves as a second
// durable seen-key source for cross-run idempotence. Optional: a run
// without a DSN uses the file journal alone.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.RecordStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// SeenKeys returns a map with the natural keys that already exist in
// the archive.
func (r *PostgresRepository) SeenKeys(ctx context.Context, keys []domain.RecordKey) (map[domain.RecordKey]bool, error) {
	result := make(map[domain.RecordKey]bool)
	if r.db == nil || len(keys) == 0 {
		return result, nil
	}

	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}

	query, args, err := r.builder.
		Select("natural_key").
		From("announcements").
		Where("natural_key = ANY(?)", pq.StringArray(raw)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seen query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result[domain.RecordKey(key)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// SaveRecord upserts the classified record snapshot keyed by its
// natural key.
func (r *PostgresRepository) SaveRecord(ctx context.Context, rec domain.ClassifiedRecord) error {
	if r.db == nil {
		return nil
	}

	var number, supplier, amount string
	if rec.Detail.Contract != nil {
		number = rec.Detail.Contract.ContractNumber
		supplier = rec.Detail.Contract.Supplier
		amount = rec.Detail.Contract.Amount
	}

	query, args, err := r.builder.
		Insert("announcements").
		Columns("natural_key", "hospital_id", "title", "publish_time", "detail_url",
			"categories", "contract_number", "supplier", "contract_amount", "detail_unavailable").
		Values(rec.Key().String(), rec.HospitalID, rec.Detail.Item.Title, rec.Detail.PublishTime,
			rec.Detail.Item.DetailURL, strings.Join(rec.Categories, "|"),
			number, supplier, amount, rec.Detail.DetailUnavailable).
		Suffix(`ON CONFLICT (natural_key) DO UPDATE
                SET categories = EXCLUDED.categories,
                    contract_number = EXCLUDED.contract_number,
                    supplier = EXCLUDED.supplier,
                    contract_amount = EXCLUDED.contract_amount,
                    detail_unavailable = EXCLUDED.detail_unavailable,
                    updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	return nil
}
