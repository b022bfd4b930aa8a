package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fiatreserve/core/types"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("reserved storage path must be configured")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("reserved storage: not found")
)

// Storage persists the committed event history and periodic reserve
// position snapshots.
type Storage struct {
	db *gorm.DB
}

// Open initialises the backing store. Postgres URLs and keyword DSNs select
// the postgres driver; anything else is treated as a sqlite DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(dialector(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := autoMigrate(db); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.HasPrefix(lower, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Publish stores committed records. Records already present are ignored so a
// replayed batch is harmless.
func (s *Storage) Publish(ctx context.Context, records []types.EventRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	rows := make([]eventRow, 0, len(records))
	for _, rec := range records {
		if rec.Event == nil {
			continue
		}
		attrs, err := json.Marshal(rec.Event.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		rows = append(rows, eventRow{
			Sequence:    rec.Sequence,
			RecordID:    rec.ID,
			Idx:         rec.Index,
			Operation:   rec.Operation,
			Type:        rec.Event.Type,
			Attributes:  string(attrs),
			CommittedAt: rec.CommittedAt.UTC(),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// EventFilter narrows an event listing.
type EventFilter struct {
	After uint64
	Limit int
	Type  string
}

// Events lists records with a sequence greater than filter.After in commit
// order.
func (s *Storage) Events(ctx context.Context, filter EventFilter) ([]types.EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&eventRow{}).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	var rows []eventRow
	if err := query.Order("sequence ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	records := make([]types.EventRecord, 0, len(rows))
	for _, row := range rows {
		rec := types.EventRecord{
			ID:          row.RecordID,
			Sequence:    row.Sequence,
			Index:       row.Idx,
			Operation:   row.Operation,
			Event:       &types.Event{Type: row.Type, Attributes: map[string]string{}},
			CommittedAt: row.CommittedAt.UTC(),
		}
		if err := json.Unmarshal([]byte(row.Attributes), &rec.Event.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes %d: %w", row.Sequence, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestSequence returns the highest stored sequence, or zero.
func (s *Storage) LatestSequence(ctx context.Context) (uint64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	var seq sql.NullInt64
	row := s.db.WithContext(ctx).Model(&eventRow{}).Select("MAX(sequence)").Row()
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("query latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Snapshot is a recorded reserve position.
type Snapshot struct {
	ID         int64
	Idle       *big.Int
	Deployed   *big.Int
	Assets     *big.Int
	Supply     *big.Int
	Allocation *big.Int
	RecordedAt time.Time
}

// RecordSnapshot stores a position snapshot.
func (s *Storage) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := snap.RecordedAt.UTC()
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	row := snapshotRow{
		Idle:       amountString(snap.Idle),
		Deployed:   amountString(snap.Deployed),
		Assets:     amountString(snap.Assets),
		Supply:     amountString(snap.Supply),
		Allocation: amountString(snap.Allocation),
		RecordedAt: recorded,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshots returns up to limit snapshots, newest first.
func (s *Storage) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []snapshotRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, Snapshot{
			ID:         int64(row.ID),
			Idle:       parseAmount(row.Idle),
			Deployed:   parseAmount(row.Deployed),
			Assets:     parseAmount(row.Assets),
			Supply:     parseAmount(row.Supply),
			Allocation: parseAmount(row.Allocation),
			RecordedAt: row.RecordedAt.UTC(),
		})
	}
	return out, nil
}

// LatestSnapshot returns the most recent snapshot.
func (s *Storage) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	snaps, err := s.Snapshots(ctx, 1)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return snaps[0], nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
