package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/strand-jobs/pkg/reindex"
)

// StrandRecord is the indexed header of one strand.
type StrandRecord struct {
	Path       string    `gorm:"primaryKey;size:1024"`
	Title      string    `gorm:"size:512"`
	Difficulty string    `gorm:"size:32;index"`
	Status     string    `gorm:"size:32;index"`
	Subjects   []string  `gorm:"serializer:json;type:text"`
	Topics     []string  `gorm:"serializer:json;type:text"`
	Tags       []string  `gorm:"serializer:json;type:text"`
	BlockCount int       `gorm:"not null;default:0"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (StrandRecord) TableName() string { return "strands" }

// BlockRecord is one indexed block of a strand.
type BlockRecord struct {
	ID         string   `gorm:"primaryKey;size:1100"`
	StrandPath string   `gorm:"size:1024;index;not null"`
	Position   int      `gorm:"not null"`
	Kind       string   `gorm:"size:16;not null"`
	Level      int      `gorm:"not null;default:0"`
	Text       string   `gorm:"type:text"`
	Tags       []string `gorm:"serializer:json;type:text"`
	WordCount  int      `gorm:"not null;default:0"`
}

// TableName pins the table name.
func (BlockRecord) TableName() string { return "strand_blocks" }

// GormContentIndex stores what the re-index pipeline produces: strand
// metadata, blocks and strand-level tags.
type GormContentIndex struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormContentIndex creates a content index over db.
func NewGormContentIndex(db *gorm.DB) *GormContentIndex {
	return &GormContentIndex{db: db, now: time.Now}
}

// Migrate creates the strand and block tables.
func (c *GormContentIndex) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&StrandRecord{}, &BlockRecord{})
}

// UpdateMetadata upserts the search fields of a strand.
func (c *GormContentIndex) UpdateMetadata(ctx context.Context, strandPath string, md reindex.Metadata) error {
	rec := &StrandRecord{
		Path:       strandPath,
		Title:      md.Title,
		Difficulty: md.Difficulty,
		Status:     md.Status,
		Subjects:   md.Subjects,
		Topics:     md.Topics,
		Tags:       md.Tags,
		UpdatedAt:  c.now().UTC(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "difficulty", "status", "subjects", "topics", "tags", "updated_at"}),
		}).
		Create(rec).Error
}

// ReplaceBlocks swaps the stored blocks of a strand in one transaction.
func (c *GormContentIndex) ReplaceBlocks(ctx context.Context, strandPath string, blocks []reindex.Block) error {
	recs := make([]BlockRecord, 0, len(blocks))
	for _, b := range blocks {
		recs = append(recs, BlockRecord{
			ID:         b.ID,
			StrandPath: strandPath,
			Position:   b.Index,
			Kind:       string(b.Kind),
			Level:      b.Level,
			Text:       b.Text,
			Tags:       b.Tags,
			WordCount:  b.WordCount,
		})
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("strand_path = ?", strandPath).Delete(&BlockRecord{}).Error; err != nil {
			return err
		}
		if len(recs) > 0 {
			if err := tx.CreateInBatches(recs, 100).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"block_count", "updated_at"}),
		}).Create(&StrandRecord{
			Path:       strandPath,
			BlockCount: len(recs),
			UpdatedAt:  c.now().UTC(),
		}).Error
	})
}

// StrandTags returns the strand-level tags, or nil for an unknown strand.
func (c *GormContentIndex) StrandTags(ctx context.Context, strandPath string) ([]string, error) {
	rec, err := c.Strand(ctx, strandPath)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Tags, nil
}

// SetStrandTags replaces the strand-level tags.
func (c *GormContentIndex) SetStrandTags(ctx context.Context, strandPath string, tags []string) error {
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"tags", "updated_at"}),
		}).
		Create(&StrandRecord{Path: strandPath, Tags: tags, UpdatedAt: c.now().UTC()}).Error
}

// Strand returns the indexed header, or nil when the strand is unknown.
func (c *GormContentIndex) Strand(ctx context.Context, strandPath string) (*StrandRecord, error) {
	var rec StrandRecord
	err := c.db.WithContext(ctx).Where("path = ?", strandPath).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Blocks returns the indexed blocks of a strand in document order.
func (c *GormContentIndex) Blocks(ctx context.Context, strandPath string) ([]BlockRecord, error) {
	var recs []BlockRecord
	err := c.db.WithContext(ctx).
		Where("strand_path = ?", strandPath).
		Order("position ASC").
		Find(&recs).Error
	return recs, err
}

var (
	_ reindex.MetadataIndex = (*GormContentIndex)(nil)
	_ reindex.BlockIndex    = (*GormContentIndex)(nil)
	_ reindex.TagStore      = (*GormContentIndex)(nil)
)
