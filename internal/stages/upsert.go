package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
)

// DocMeta is the document-level metadata passed to Upsert.
type DocMeta struct {
	SourceURL   string
	ContentType string
	Title       string
}

// DocumentID derives the stable document identifier both the Postgres
// document record and the vector store's points are keyed by, so
// re-upserting the same source URL is idempotent on both sides
// (SPEC_FULL.md §11.2).
func DocumentID(sourceURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sourceURL)))
	return hex.EncodeToString(sum[:16])
}

// Upserter is the pluggable vector-store write capability (spec §4.2).
// Upsert must be atomic across the document and all its chunks: either all
// are persisted or none (enforced by the concrete implementation, e.g. a
// single collection PUT per document). documentID is pre-allocated by the
// caller (the Postgres document record commits first, per SPEC_FULL.md
// §11.2) so the vector store's point ids and the document row agree.
type Upserter interface {
	Upsert(ctx context.Context, documentID string, doc DocMeta, chunks []string, vectors [][]float32) error
}

// DocumentPersister is the Postgres-side write half of upsert (SPEC_FULL.md
// §11.2): one documents row plus its document_chunks rows, committed before
// Upserter.Upsert ever runs. Satisfied by store.Store.
type DocumentPersister interface {
	PersistDocument(dbc dbctx.Context, doc DocMeta, chunks []string) (documentID string, err error)
}
