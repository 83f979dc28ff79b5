package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// DLQ error messages are cut to this many bytes.
const maxDLQErrorLen = 1024

var errTxRequired = errors.New("outbox: transaction required")

// Repository reads and updates outbox_events. Every write made on behalf of
// the relay takes the relay's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims the oldest undelivered rows below
// maxAttempts. SKIP LOCKED keeps concurrent relays off each other's rows.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at, id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return update(tx, id, map[string]any{
		"published_at":  time.Now().UTC(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    nil,
	})
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return update(tx, id, map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    describe(err),
	})
}

// MarkTerminalTx pins attempt_count at terminalAttempts so the row is never
// claimed again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return update(tx, id, map[string]any{
		"attempt_count": terminalAttempts,
		"last_error":    describe(err),
	})
}

// PruneBefore deletes at most limit rows created before cutoff that were
// delivered or reached minAttempts. Callers repeat until fewer than limit
// come back.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time, minAttempts, limit int) (int64, error) {
	return prune(ctx, r.db, &models.OutboxEvent{}, "created_at", cutoff, limit,
		clause.Expr{SQL: "(published_at IS NOT NULL OR attempt_count >= ?)", Vars: []any{minAttempts}})
}

// DLQRepository stores the events the relay gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records entry in the relay's transaction, clipping the error
// message to maxDLQErrorLen bytes on a rune boundary.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// PruneBefore deletes at most limit entries that failed before cutoff.
func (r *DLQRepository) PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return prune(ctx, r.db, &models.OutboxDLQ{}, "failed_at", cutoff, limit)
}

func update(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

// prune deletes the oldest limit rows of model older than cutoff on column.
// The id subquery keeps each delete bounded on both Postgres and SQLite.
func prune(ctx context.Context, db *gorm.DB, model any, column string, cutoff time.Time, limit int, extra ...clause.Expression) (int64, error) {
	oldest := db.WithContext(ctx).Model(model).
		Select("id").
		Where(column+" < ?", cutoff)
	for _, cond := range extra {
		oldest = oldest.Where(cond)
	}
	oldest = oldest.Order(column).Limit(limit)

	res := db.WithContext(ctx).Where("id IN (?)", oldest).Delete(model)
	return res.RowsAffected, res.Error
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
