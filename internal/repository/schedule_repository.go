package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailfred-go/internal/model"
)

// ErrAlreadyFinalized is returned by WriteAll when a record it was asked to
// finalize has already been finalized by another writer.
var ErrAlreadyFinalized = errors.New("schedule record was already finalized")

const defaultPageSize = 100

// ScheduleRepository persists schedule records.
type ScheduleRepository struct {
	db       *gorm.DB
	pageSize int
}

// NewScheduleRepository creates a repository on top of db.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db, pageSize: defaultPageSize}
}

// WithPageSize overrides how many rows FindDueUnprocessed loads per query.
func (r *ScheduleRepository) WithPageSize(n int) *ScheduleRepository {
	if n > 0 {
		r.pageSize = n
	}
	return r
}

// Transaction runs fn against a repository bound to a single database
// transaction. Returning an error from fn rolls back every write made through
// the bound repository.
func (r *ScheduleRepository) Transaction(ctx context.Context, fn func(tx *ScheduleRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ScheduleRepository{db: tx, pageSize: r.pageSize})
	})
}

// FindUnprocessed returns every unprocessed record for the (owner, messageRef)
// pair, oldest first. Rows are locked for update where the dialect supports it.
func (r *ScheduleRepository) FindUnprocessed(ctx context.Context, owner, messageRef string) ([]*model.ScheduleRecord, error) {
	var records []*model.ScheduleRecord
	result := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner = ? AND message_ref = ? AND processed = ?", owner, messageRef, false).
		Order("id").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find unprocessed records: %w", result.Error)
	}
	return records, nil
}

// FindUnprocessedForOwner returns every unprocessed record of owner.
func (r *ScheduleRepository) FindUnprocessedForOwner(ctx context.Context, owner string) ([]*model.ScheduleRecord, error) {
	var records []*model.ScheduleRecord
	result := r.db.WithContext(ctx).
		Where("owner = ? AND processed = ?", owner, false).
		Order("id").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find unprocessed records for owner: %w", result.Error)
	}
	return records, nil
}

// FindDueUnprocessed lazily yields every unprocessed record of any owner whose
// due time is at or before asOf. Records are loaded in id-ordered pages so no
// cursor stays open while the caller writes outcomes. Each call starts a new
// enumeration.
func (r *ScheduleRepository) FindDueUnprocessed(ctx context.Context, asOf time.Time) iter.Seq2[*model.ScheduleRecord, error] {
	asOf = asOf.UTC()
	return func(yield func(*model.ScheduleRecord, error) bool) {
		var lastID uint
		for {
			var page []*model.ScheduleRecord
			result := r.db.WithContext(ctx).
				Where("processed = ? AND due_at <= ? AND id > ?", false, asOf, lastID).
				Order("id").
				Limit(r.pageSize).
				Find(&page)
			if result.Error != nil {
				yield(nil, fmt.Errorf("failed to query due records: %w", result.Error))
				return
			}

			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}

			if len(page) < r.pageSize {
				return
			}
			lastID = page[len(page)-1].ID
		}
	}
}

// WriteAll persists a batch of records atomically. Records without an ID are
// inserted. Existing records must carry their terminal outcome; they are only
// written while still unprocessed in the store, otherwise the batch fails with
// ErrAlreadyFinalized.
func (r *ScheduleRepository) WriteAll(ctx context.Context, records []*model.ScheduleRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if rec.ID == 0 {
				if err := tx.Create(rec).Error; err != nil {
					return fmt.Errorf("failed to insert schedule record: %w", err)
				}
				continue
			}

			if !rec.Processed {
				return fmt.Errorf("record %d has no outcome to write", rec.ID)
			}

			result := tx.Model(&model.ScheduleRecord{}).
				Where("id = ? AND processed = ?", rec.ID, false).
				Updates(map[string]interface{}{
					"processed":    true,
					"processed_at": rec.ProcessedAt.UTC(),
					"status":       rec.Status,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to update schedule record %d: %w", rec.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("record %d: %w", rec.ID, ErrAlreadyFinalized)
			}
		}
		return nil
	})
}

// ListForOwner returns a page of the owner's records, newest first, and the
// total number of matching records.
func (r *ScheduleRepository) ListForOwner(ctx context.Context, owner string, pendingOnly bool, offset, limit int) ([]model.ScheduleRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.ScheduleRecord{}).Where("owner = ?", owner)
	if pendingOnly {
		query = query.Where("processed = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	var records []model.ScheduleRecord
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	return records, total, nil
}

// CountPending returns the number of unprocessed records across all owners.
func (r *ScheduleRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.ScheduleRecord{}).Where("processed = ?", false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *ScheduleRepository) Ping(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec("SELECT 1").Error
}
