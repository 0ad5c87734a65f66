package db

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/noah04091/contract-ai-sub015/internal/vectorindex"
)

// UpsertVectorRecord persists one indexed chunk. It satisfies
// vectorindex.Store.
func (p *Pool) UpsertVectorRecord(ctx context.Context, rec vectorindex.Record) error {
	literal, err := toVectorLiteral(rec.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding for %s: %w", rec.ID, err)
	}

	const q = `
		INSERT INTO lawmon.vector_records (id, partition, embedding, text, owner_id, area, source, updated_at)
		VALUES (?, ?, ?::vector, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			partition = EXCLUDED.partition,
			embedding = EXCLUDED.embedding,
			text = EXCLUDED.text,
			owner_id = EXCLUDED.owner_id,
			area = EXCLUDED.area,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
		WHERE lawmon.vector_records.updated_at <= EXCLUDED.updated_at`

	if _, err := p.Exec(ctx, q, rec.ID, string(rec.Partition), literal, rec.Text, rec.OwnerID, rec.Area, rec.Source, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert vector record %s: %w", rec.ID, err)
	}
	return nil
}

// ListVectorRecords loads every stored record, used to rebuild the
// in-memory index on startup.
func (p *Pool) ListVectorRecords(ctx context.Context) ([]vectorindex.Record, error) {
	const q = `
		SELECT id, partition, embedding::text, text, owner_id, area, source, updated_at
		FROM lawmon.vector_records`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list vector records: %w", err)
	}
	defer rows.Close()

	var records []vectorindex.Record
	for rows.Next() {
		var rec vectorindex.Record
		var partition, literal string
		if err := rows.Scan(&rec.ID, &partition, &literal, &rec.Text, &rec.OwnerID, &rec.Area, &rec.Source, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		embedding, err := parseVectorLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", rec.ID, err)
		}
		rec.Partition = vectorindex.Partition(partition)
		rec.Embedding = embedding
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteVectorRecordsByOwner drops every chunk of an owner in a partition,
// run before a full re-index so removed chunks do not linger.
func (p *Pool) DeleteVectorRecordsByOwner(ctx context.Context, partition vectorindex.Partition, ownerID string) (int64, error) {
	const q = `
		DELETE FROM lawmon.vector_records
		WHERE partition = ? AND owner_id = ?`

	tag, err := p.Exec(ctx, q, string(partition), ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete vector records for %s/%s: %w", partition, ownerID, err)
	}
	return tag.RowsAffected(), nil
}

// toVectorLiteral renders a pgvector literal like [0.1,0.2]. Non-finite
// components are rejected rather than written as NaN.
func toVectorLiteral(embedding []float64) (string, error) {
	if len(embedding) == 0 {
		return "", fmt.Errorf("embedding is empty")
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("component %d is not finite", i)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func parseVectorLiteral(literal string) ([]float64, error) {
	trimmed := strings.TrimSpace(literal)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("malformed vector literal")
	}
	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if inner == "" {
		return nil, fmt.Errorf("vector literal is empty")
	}
	parts := strings.Split(inner, ",")
	embedding := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		embedding[i] = v
	}
	return embedding, nil
}
