package domain

import "time"

// Document is the Postgres-side record of one upserted document
// (SPEC_FULL.md §11.2): source URL, content type, and title, keyed by the
// same deterministic id the vector store uses for its points. Written in
// the same transaction as its DocumentChunk rows; the vector upsert runs
// only after that transaction commits.
type Document struct {
	ID          string    `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	SourceURL   string    `gorm:"column:source_url;not null" json:"source_url"`
	ContentType string    `gorm:"column:content_type;not null;default:''" json:"content_type"`
	Title       string    `gorm:"column:title;not null;default:''" json:"title,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// DocumentChunk is one chunk of a Document's text, in chunk order.
type DocumentChunk struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DocumentID string    `gorm:"column:document_id;not null;index" json:"document_id"`
	ChunkIndex int       `gorm:"column:chunk_index;not null" json:"chunk_index"`
	ChunkText  string    `gorm:"column:chunk_text;not null" json:"chunk_text"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }
