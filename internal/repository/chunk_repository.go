package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paperquote/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceDocumentChunks commits a completed ingestion in one transaction:
// chunks whose keys are absent from the new set are removed, the new set is
// inserted (duplicate keys are no-ops, keys are content-addressed), and the
// job is moved to done. Queries therefore never observe a document whose
// job has not reached done, without any read-side locking.
func (r *ChunkRepository) ReplaceDocumentChunks(ctx context.Context, documentID uint, chunks []model.Chunk, jobID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := make([]string, len(chunks))
		for i := range chunks {
			keys[i] = chunks[i].ChunkKey
		}

		stale := tx.Where("document_id = ?", documentID)
		if len(keys) > 0 {
			stale = stale.Where("chunk_key NOT IN ?", keys)
		}
		if err := stale.Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete stale chunks failed: %w", err)
		}

		if len(chunks) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chunk_key"}},
				DoNothing: true,
			}).Create(&chunks).Error
			if err != nil {
				return fmt.Errorf("insert chunks failed: %w", err)
			}
		}

		err := tx.Model(&model.IngestionJob{}).
			Where("id = ? AND state = ?", jobID, model.JobProcessing).
			Updates(map[string]interface{}{
				"state":      model.JobDone,
				"last_error": "",
			}).Error
		if err != nil {
			return fmt.Errorf("complete job failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace document chunks failed: %w", err)
	}
	return nil
}

// ListBySection loads all committed chunks, restricted to a section label
// when one is given. Candidate selection for similarity ranking.
func (r *ChunkRepository) ListBySection(ctx context.Context, sectionLabel string) ([]model.Chunk, error) {
	q := r.db.WithContext(ctx)
	if sectionLabel != "" {
		q = q.Where("section_label = ?", sectionLabel)
	}
	var chunks []model.Chunk
	if err := q.Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) GetByKey(ctx context.Context, chunkKey string) (*model.Chunk, error) {
	var chunk model.Chunk
	err := r.db.WithContext(ctx).Where("chunk_key = ?", chunkKey).First(&chunk).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("query chunk by key failed: %w", err)
	}
	return &chunk, nil
}

func (r *ChunkRepository) CountByDocumentID(ctx context.Context, documentID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("document_id = ?", documentID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count chunks failed: %w", err)
	}
	return n, nil
}
