package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"paperquote/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document by id failed: %w", err)
	}
	return &doc, nil
}

// ListByUserID returns documents without their raw PDF payloads.
func (r *DocumentRepository) ListByUserID(ctx context.Context, userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "title", "filename", "page_count", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) UpdatePageCount(ctx context.Context, id uint, pageCount int) error {
	err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", id).
		Update("page_count", pageCount).Error
	if err != nil {
		return fmt.Errorf("update document page count failed: %w", err)
	}
	return nil
}
