package db

import (
	"context"
	"fmt"
	"time"
)

func (p *Pool) GetContract(ctx context.Context, contractID string) (Contract, error) {
	const q = `
		SELECT contract_id, user_id, name, full_text, content, parsed_text, area, updated_at, last_indexed_at, created_at
		FROM lawmon.contracts
		WHERE contract_id = ?`

	var c Contract
	err := p.QueryRow(ctx, q, contractID).Scan(
		&c.ContractID, &c.UserID, &c.Name, &c.FullText, &c.Content, &c.ParsedText,
		&c.Area, &c.UpdatedAt, &c.LastIndexedAt, &c.CreatedAt,
	)
	if err != nil {
		return Contract{}, err
	}
	return c, nil
}

// UpsertContract registers or refreshes a contract coming from the upstream
// document store. A changed row bumps updated_at, which makes the contract
// stale for the indexer.
func (p *Pool) UpsertContract(ctx context.Context, c Contract) error {
	const q = `
		INSERT INTO lawmon.contracts
			(contract_id, user_id, name, full_text, content, parsed_text, area, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (contract_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			full_text = EXCLUDED.full_text,
			content = EXCLUDED.content,
			parsed_text = EXCLUDED.parsed_text,
			area = EXCLUDED.area,
			updated_at = EXCLUDED.updated_at`

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if _, err := p.Exec(ctx, q, c.ContractID, c.UserID, c.Name, c.FullText, c.Content, c.ParsedText, c.Area, updatedAt); err != nil {
		return fmt.Errorf("upsert contract %s: %w", c.ContractID, err)
	}
	return nil
}

// ListStaleContracts returns contracts never indexed or modified since
// their last successful index pass, oldest modification first.
func (p *Pool) ListStaleContracts(ctx context.Context, limit int) ([]Contract, error) {
	const q = `
		SELECT contract_id, user_id, name, full_text, content, parsed_text, area, updated_at, last_indexed_at, created_at
		FROM lawmon.contracts
		WHERE last_indexed_at IS NULL OR last_indexed_at < updated_at
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale contracts: %w", err)
	}
	defer rows.Close()

	var contracts []Contract
	for rows.Next() {
		var c Contract
		if err := rows.Scan(
			&c.ContractID, &c.UserID, &c.Name, &c.FullText, &c.Content, &c.ParsedText,
			&c.Area, &c.UpdatedAt, &c.LastIndexedAt, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// SetContractIndexedAt advances the index watermark. GREATEST keeps it
// monotonic even if runs land out of order.
func (p *Pool) SetContractIndexedAt(ctx context.Context, contractID string, indexedAt time.Time) error {
	const q = `
		UPDATE lawmon.contracts
		SET last_indexed_at = GREATEST(COALESCE(last_indexed_at, 'epoch'::timestamptz), ?)
		WHERE contract_id = ?`

	tag, err := p.Exec(ctx, q, indexedAt, contractID)
	if err != nil {
		return fmt.Errorf("set indexed-at for contract %s: %w", contractID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (p *Pool) UpsertUser(ctx context.Context, u User) error {
	const q = `
		INSERT INTO lawmon.users (user_id, email, digest_mode, created_at)
		VALUES (?, ?, ?, now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			digest_mode = EXCLUDED.digest_mode`

	if _, err := p.Exec(ctx, q, u.UserID, u.Email, u.DigestMode); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	return nil
}

func (p *Pool) GetUser(ctx context.Context, userID string) (User, error) {
	const q = `
		SELECT user_id, email, digest_mode, created_at
		FROM lawmon.users
		WHERE user_id = ?`

	var u User
	err := p.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.Email, &u.DigestMode, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
