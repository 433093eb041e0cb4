package store

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/internal/database"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// collectionRow holds one serialized collection
type collectionRow struct {
	Name      string `gorm:"primaryKey;size:64"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (collectionRow) TableName() string {
	return "collections"
}

// SQLBackend stores collections as rows in a gorm-managed table
type SQLBackend struct {
	db *gorm.DB
}

// NewSQLBackend migrates the collections table
func NewSQLBackend(db *gorm.DB) (*SQLBackend, error) {
	if err := db.AutoMigrate(&collectionRow{}); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return &SQLBackend{db: db}, nil
}

// Load reads the collection row
func (b *SQLBackend) Load(ctx context.Context, collection string) ([]byte, bool, error) {
	var row collectionRow
	err := b.db.WithContext(ctx).Where("name = ?", collection).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(row.Payload), true, nil
}

// Save upserts the collection row
func (b *SQLBackend) Save(ctx context.Context, collection string, data []byte) error {
	row := collectionRow{Name: collection, Payload: string(data), UpdatedAt: time.Now()}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
}

// Close closes the database connection
func (b *SQLBackend) Close() error {
	return database.Close(b.db)
}
