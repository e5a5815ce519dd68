package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRow is the single table backing the Postgres store. Payloads live
// in a JSONB column; filters run directly on it.
type documentRow struct {
	Collection string    `gorm:"primaryKey;size:64"`
	DocID      string    `gorm:"primaryKey;size:128;column:doc_id"`
	Data       []byte    `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (documentRow) TableName() string { return "documents" }

// PostgresStore implements Store on gorm/Postgres. Update transactions take
// a row-level lock (SELECT ... FOR UPDATE), so racing joiners serialize on
// the session row. Watch is poll-based.
type PostgresStore struct {
	DB           *gorm.DB
	PollInterval time.Duration
	Clock        clockwork.Clock
}

// NewPostgresStore migrates the documents table. The *gorm.DB must be opened
// with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &PostgresStore{DB: db, PollInterval: 500 * time.Millisecond, Clock: clockwork.NewRealClock()}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	row := documentRow{Collection: collection, DocID: id, Data: raw}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrExists
		}
		return wrapDBErr(err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, out any) error {
	var row documentRow
	err := s.DB.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return wrapDBErr(err)
	}
	return json.Unmarshal(row.Data, out)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	res := s.DB.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&documentRow{})
	if res.Error != nil {
		return wrapDBErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, out any) error {
	q := s.DB.WithContext(ctx).Model(&documentRow{}).
		Where("collection = ?", collection).
		Order("created_at ASC")

	for _, f := range filters {
		switch f.Op {
		case OpEq:
			q = q.Where("data ->> ? = ?", f.Field, fmt.Sprint(f.Value))
		case OpGt:
			if t, ok := f.Value.(time.Time); ok {
				q = q.Where(fmt.Sprintf("(data ->> '%s')::timestamptz > ?", f.Field), t)
			} else {
				q = q.Where("data ->> ? > ?", f.Field, fmt.Sprint(f.Value))
			}
		case OpLt:
			if t, ok := f.Value.(time.Time); ok {
				q = q.Where(fmt.Sprintf("(data ->> '%s')::timestamptz < ?", f.Field), t)
			} else {
				q = q.Where("data ->> ? < ?", f.Field, fmt.Sprint(f.Value))
			}
		case OpContains:
			encoded, err := json.Marshal(f.Value)
			if err != nil {
				return err
			}
			q = q.Where(fmt.Sprintf("data -> '%s' @> ?", f.Field), string(encoded))
		default:
			return fmt.Errorf("store: unknown filter op %q", f.Op)
		}
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return wrapDBErr(err)
	}
	raws := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		raws = append(raws, json.RawMessage(r.Data))
	}
	return UnmarshalDocs(raws, out)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, apply func(raw []byte) ([]byte, error)) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", collection, id).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return wrapDBErr(err)
		}
		updated, err := apply(row.Data)
		if err != nil {
			return err
		}
		return wrapDBErr(tx.Model(&documentRow{}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Update("data", updated).Error)
	})
}

func (s *PostgresStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		var last []byte
		ticker := s.Clock.NewTicker(s.PollInterval)
		defer ticker.Stop()
		for {
			var row documentRow
			err := s.DB.WithContext(ctx).
				Where("collection = ? AND doc_id = ?", collection, id).
				First(&row).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if last != nil {
					return // document deleted
				}
			case err != nil:
				// transient DB error — keep polling
			default:
				if !bytes.Equal(last, row.Data) {
					last = row.Data
					select {
					case ch <- row.Data:
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ticker.Chan():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *PostgresStore) Close() error {
	db, err := s.DB.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// wrapDBErr tags connectivity-type failures as retriable.
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
