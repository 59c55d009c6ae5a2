package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/index"
)

// Indexer hands documents to the external search index over NATS. The
// index service consumes the subjects and maintains its own store; the
// engine only ships the documents.
type Indexer struct {
	log    *slog.Logger
	nc     conn
	prefix string
}

// NewIndexer creates an indexer over an established NATS connection.
func NewIndexer(logger *slog.Logger, nc *nats.Conn, prefix string) *Indexer {
	return newIndexer(logger, nc, prefix)
}

func newIndexer(logger *slog.Logger, nc conn, prefix string) *Indexer {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Indexer{log: logger, nc: nc, prefix: prefix}
}

type wireDocument struct {
	ID     uuid.UUID         `json:"id"`
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields,omitempty"`
}

type wireUpsert struct {
	Document wireDocument `json:"document"`
	SentAt   time.Time    `json:"sent_at"`
}

type wireDelete struct {
	Type   string    `json:"type"`
	ID     uuid.UUID `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

type wireRebuild struct {
	Type      string         `json:"type"`
	Documents []wireDocument `json:"documents"`
	SentAt    time.Time      `json:"sent_at"`
}

// Upsert ships one document to the index.
func (i *Indexer) Upsert(ctx context.Context, doc index.Document) error {
	return i.send(ctx, i.prefix+".index.upsert", wireUpsert{
		Document: toWireDocument(doc),
		SentAt:   time.Now().UTC(),
	})
}

// Delete removes one document from the index.
func (i *Indexer) Delete(ctx context.Context, t domain.EntityType, id uuid.UUID) error {
	return i.send(ctx, i.prefix+".index.delete", wireDelete{
		Type:   string(t),
		ID:     id,
		SentAt: time.Now().UTC(),
	})
}

// Rebuild replaces every document of one entity type. The full set
// travels in a single message so the consumer can swap atomically.
func (i *Indexer) Rebuild(ctx context.Context, t domain.EntityType, docs []index.Document) error {
	wire := wireRebuild{
		Type:      string(t),
		Documents: make([]wireDocument, len(docs)),
		SentAt:    time.Now().UTC(),
	}
	for n, d := range docs {
		wire.Documents[n] = toWireDocument(d)
	}
	return i.send(ctx, i.prefix+".index.rebuild", wire)
}

func (i *Indexer) send(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal index message: %w", err)
	}
	if err := i.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	i.log.Debug("index message sent", slog.String("subject", subject))
	return nil
}

func toWireDocument(doc index.Document) wireDocument {
	return wireDocument{
		ID:     doc.ID,
		Type:   string(doc.Type),
		Fields: doc.Fields,
	}
}
