package db

import (
	"context"
	"fmt"
	"time"
)

func (p *Pool) GetLawUpdate(ctx context.Context, lawID string) (LawUpdate, error) {
	const q = `
		SELECT law_id, content_hash, title, summary, area, language, source_url, keywords, published_at, created_at, updated_at
		FROM lawmon.law_updates
		WHERE law_id = ?`

	var law LawUpdate
	err := p.QueryRow(ctx, q, lawID).Scan(
		&law.LawID, &law.ContentHash, &law.Title, &law.Summary, &law.Area,
		&law.Language, &law.SourceURL, &law.Keywords, &law.PublishedAt,
		&law.CreatedAt, &law.UpdatedAt,
	)
	if err != nil {
		return LawUpdate{}, err
	}
	return law, nil
}

func (p *Pool) GetLawUpdateByHash(ctx context.Context, contentHash []byte) (LawUpdate, error) {
	const q = `
		SELECT law_id, content_hash, title, summary, area, language, source_url, keywords, published_at, created_at, updated_at
		FROM lawmon.law_updates
		WHERE content_hash = ?`

	var law LawUpdate
	err := p.QueryRow(ctx, q, contentHash).Scan(
		&law.LawID, &law.ContentHash, &law.Title, &law.Summary, &law.Area,
		&law.Language, &law.SourceURL, &law.Keywords, &law.PublishedAt,
		&law.CreatedAt, &law.UpdatedAt,
	)
	if err != nil {
		return LawUpdate{}, err
	}
	return law, nil
}

// InsertLawUpdateWithRef inserts a new law and its first source ref in one
// transaction, so a half-inserted law can never exist without provenance.
func (p *Pool) InsertLawUpdateWithRef(ctx context.Context, law LawUpdate, ref LawSourceRef) error {
	const insertLaw = `
		INSERT INTO lawmon.law_updates
			(law_id, content_hash, title, summary, area, language, source_url, keywords, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (law_id) DO NOTHING`
	const insertRef = `
		INSERT INTO lawmon.law_source_refs (law_id, source, source_item_id, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (law_id, source) DO NOTHING`

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert law %s: %w", law.LawID, err)
	}

	tag, err := tx.Exec(ctx, insertLaw,
		law.LawID, law.ContentHash, law.Title, law.Summary, law.Area,
		law.Language, law.SourceURL, law.Keywords, law.PublishedAt,
		law.CreatedAt, law.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert law update %s: %w", law.LawID, err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("law update %s already exists", law.LawID)
	}

	addedAt := ref.AddedAt
	if addedAt.IsZero() {
		addedAt = law.CreatedAt
	}
	if _, err := tx.Exec(ctx, insertRef, ref.LawID, ref.Source, ref.SourceItemID, addedAt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert source ref %s/%s: %w", ref.LawID, ref.Source, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert law %s: %w", law.LawID, err)
	}
	return nil
}

// UpdateLawUpdate rewrites the mutable columns of an existing row, used for
// in-place refresh and for writing merge results.
func (p *Pool) UpdateLawUpdate(ctx context.Context, law LawUpdate) error {
	const q = `
		UPDATE lawmon.law_updates
		SET content_hash = ?, title = ?, summary = ?, area = ?, language = ?,
			source_url = ?, keywords = ?, published_at = ?, updated_at = ?
		WHERE law_id = ?`

	tag, err := p.Exec(ctx, q,
		law.ContentHash, law.Title, law.Summary, law.Area, law.Language,
		law.SourceURL, law.Keywords, law.PublishedAt, law.UpdatedAt, law.LawID,
	)
	if err != nil {
		return fmt.Errorf("update law update %s: %w", law.LawID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (p *Pool) UpsertLawSourceRef(ctx context.Context, ref LawSourceRef) error {
	const q = `
		INSERT INTO lawmon.law_source_refs (law_id, source, source_item_id, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (law_id, source) DO NOTHING`

	addedAt := ref.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}
	if _, err := p.Exec(ctx, q, ref.LawID, ref.Source, ref.SourceItemID, addedAt); err != nil {
		return fmt.Errorf("upsert source ref %s/%s: %w", ref.LawID, ref.Source, err)
	}
	return nil
}

func (p *Pool) ListLawSourceRefs(ctx context.Context, lawID string) ([]LawSourceRef, error) {
	const q = `
		SELECT law_id, source, source_item_id, added_at
		FROM lawmon.law_source_refs
		WHERE law_id = ?
		ORDER BY source`

	rows, err := p.Query(ctx, q, lawID)
	if err != nil {
		return nil, fmt.Errorf("list source refs for %s: %w", lawID, err)
	}
	defer rows.Close()

	var refs []LawSourceRef
	for rows.Next() {
		var ref LawSourceRef
		if err := rows.Scan(&ref.LawID, &ref.Source, &ref.SourceItemID, &ref.AddedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListLawUpdatesMissingVectors returns laws with no row in the law
// partition of vector_records, oldest first.
func (p *Pool) ListLawUpdatesMissingVectors(ctx context.Context, limit int) ([]LawUpdate, error) {
	const q = `
		SELECT l.law_id, l.content_hash, l.title, l.summary, l.area, l.language, l.source_url, l.keywords, l.published_at, l.created_at, l.updated_at
		FROM lawmon.law_updates l
		WHERE NOT EXISTS (
			SELECT 1 FROM lawmon.vector_records v
			WHERE v.partition = 'law' AND v.owner_id = l.law_id
		)
		ORDER BY l.updated_at ASC
		LIMIT ?`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list laws missing vectors: %w", err)
	}
	defer rows.Close()

	var laws []LawUpdate
	for rows.Next() {
		var law LawUpdate
		if err := rows.Scan(
			&law.LawID, &law.ContentHash, &law.Title, &law.Summary, &law.Area,
			&law.Language, &law.SourceURL, &law.Keywords, &law.PublishedAt,
			&law.CreatedAt, &law.UpdatedAt,
		); err != nil {
			return nil, err
		}
		laws = append(laws, law)
	}
	return laws, rows.Err()
}

// ListLawUpdatesSince returns laws updated at or after the cutoff, oldest
// first. The notify job feeds these through the matcher; re-running over
// the same window is safe because alerting suppresses recent pairs.
func (p *Pool) ListLawUpdatesSince(ctx context.Context, since time.Time, limit int) ([]LawUpdate, error) {
	const q = `
		SELECT law_id, content_hash, title, summary, area, language, source_url, keywords, published_at, created_at, updated_at
		FROM lawmon.law_updates
		WHERE updated_at >= ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := p.Query(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list laws since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var laws []LawUpdate
	for rows.Next() {
		var law LawUpdate
		if err := rows.Scan(
			&law.LawID, &law.ContentHash, &law.Title, &law.Summary, &law.Area,
			&law.Language, &law.SourceURL, &law.Keywords, &law.PublishedAt,
			&law.CreatedAt, &law.UpdatedAt,
		); err != nil {
			return nil, err
		}
		laws = append(laws, law)
	}
	return laws, rows.Err()
}
