package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/stages"
	"github.com/fenwick-labs/etlq/internal/storeerr"
)

// PersistDocument writes a document's metadata and chunks to Postgres in a
// single transaction, returning the document id the caller must then use as
// the vector store's document id (SPEC_FULL.md §11.2: "Document metadata is
// persisted in the same Postgres instance as the job queue... with the
// vector upsert performed after the transaction commits"). Re-running it for
// the same source URL upserts the documents row and replaces the prior
// chunk rows, keeping both sides idempotent under at-least-once job retries.
func (s *store) PersistDocument(dbc dbctx.Context, doc stages.DocMeta, chunks []string) (string, error) {
	documentID := stages.DocumentID(doc.SourceURL)
	now := time.Now()

	err := s.tx(dbc).Transaction(func(txx *gorm.DB) error {
		row := domain.Document{
			ID:          documentID,
			SourceURL:   doc.SourceURL,
			ContentType: doc.ContentType,
			Title:       doc.Title,
			UpdatedAt:   now,
		}
		if err := txx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_url", "content_type", "title", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		if err := txx.Where("document_id = ?", documentID).Delete(&domain.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]domain.DocumentChunk, len(chunks))
		for i, text := range chunks {
			rows[i] = domain.DocumentChunk{DocumentID: documentID, ChunkIndex: i, ChunkText: text, CreatedAt: now}
		}
		return txx.Create(&rows).Error
	})
	if err != nil {
		return "", storeerr.Unavailable("persist_document", err)
	}
	return documentID, nil
}
