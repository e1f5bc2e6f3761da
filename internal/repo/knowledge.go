package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

// AddKnowledgeItem computes the item's content id, validates it, and inserts
// it if no row with that id already exists. Re-adding identical inputs is a
// no-op that returns the existing row (spec §4.C invariant 1).
func (r *Repository) AddKnowledgeItem(item model.KnowledgeItem) (model.KnowledgeItem, error) {
	if err := item.Validate(); err != nil {
		return model.KnowledgeItem{}, err
	}
	id, err := canonical.ID(item.CreationInputs())
	if err != nil {
		return model.KnowledgeItem{}, err
	}
	item.ID = id

	metaTags, err := marshalStrings(item.MetaTags)
	if err != nil {
		return model.KnowledgeItem{}, err
	}
	now := model.NowISO()

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO knowledge_items
		 (id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id, item.Type, item.Text, item.Scope, item.Module, metaTags, item.Confidence, now, now,
	)
	if err != nil {
		return model.KnowledgeItem{}, fmt.Errorf("repo: add knowledge item: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.KnowledgeItem{}, err
	}
	stored, err := r.GetKnowledgeItem(id)
	if err != nil {
		return model.KnowledgeItem{}, err
	}
	if inserted {
		r.logMutation("knowledge_item.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetKnowledgeItem(id string) (model.KnowledgeItem, error) {
	row := r.db.QueryRow(
		`SELECT id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at
		 FROM knowledge_items WHERE id = ?`, id,
	)
	return scanKnowledgeItem(row)
}

func scanKnowledgeItem(row *sql.Row) (model.KnowledgeItem, error) {
	var k model.KnowledgeItem
	var metaTags string
	err := row.Scan(&k.ID, &k.Type, &k.Text, &k.Scope, &k.Module, &metaTags, &k.Confidence, &k.Helpful, &k.Harmful, &k.CreatedAt, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.KnowledgeItem{}, notFound("KnowledgeItem", "")
	}
	if err != nil {
		return model.KnowledgeItem{}, fmt.Errorf("repo: scan knowledge item: %w", err)
	}
	k.MetaTags = unmarshalStrings(metaTags)
	return k, nil
}

// ListKnowledgeItems returns items in a scope, optionally filtered by
// module, ordered by confidence descending (curate read path).
func (r *Repository) ListKnowledgeItems(scope, module string) ([]model.KnowledgeItem, error) {
	query := `SELECT id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at
	          FROM knowledge_items WHERE scope = ?`
	args := []any{scope}
	if module != "" {
		query += ` AND module = ?`
		args = append(args, module)
	}
	query += ` ORDER BY confidence DESC, created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list knowledge items: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeItem
	for rows.Next() {
		var k model.KnowledgeItem
		var metaTags string
		if err := rows.Scan(&k.ID, &k.Type, &k.Text, &k.Scope, &k.Module, &metaTags, &k.Confidence, &k.Helpful, &k.Harmful, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan knowledge item: %w", err)
		}
		k.MetaTags = unmarshalStrings(metaTags)
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListKnowledgeItemsAboveConfidence returns every item across all scopes at
// or above minConfidence, ordered the way the Renderer consumes them:
// helpful desc, confidence desc, text asc (spec §4.K step 1).
func (r *Repository) ListKnowledgeItemsAboveConfidence(minConfidence float64) ([]model.KnowledgeItem, error) {
	rows, err := r.db.Query(
		`SELECT id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at
		 FROM knowledge_items WHERE confidence >= ?
		 ORDER BY helpful DESC, confidence DESC, text ASC`, minConfidence,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list knowledge items above confidence: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeItem
	for rows.Next() {
		var k model.KnowledgeItem
		var metaTags string
		if err := rows.Scan(&k.ID, &k.Type, &k.Text, &k.Scope, &k.Module, &metaTags, &k.Confidence, &k.Helpful, &k.Harmful, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan knowledge item: %w", err)
		}
		k.MetaTags = unmarshalStrings(metaTags)
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateKnowledgeItemFeedback applies an incremental helpful/harmful delta
// (spec §4.C): callers pass +1/0 or 0/+1 per observed outcome, never an
// absolute value, so concurrent feedback from multiple attempts compounds
// correctly.
func (r *Repository) UpdateKnowledgeItemFeedback(id string, helpfulDelta, harmfulDelta int) error {
	now := model.NowISO()
	res, err := r.db.Exec(
		`UPDATE knowledge_items SET helpful = helpful + ?, harmful = harmful + ?, updated_at = ? WHERE id = ?`,
		helpfulDelta, harmfulDelta, now, id,
	)
	if err != nil {
		return fmt.Errorf("repo: update knowledge item feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: rows affected: %w", err)
	}
	if n == 0 {
		return notFound("KnowledgeItem", id)
	}
	updated, err := r.GetKnowledgeItem(id)
	if err != nil {
		return err
	}
	r.logMutation("knowledge_item.feedback", rowImage(updated))
	return nil
}

// DeleteKnowledgeItem removes a row, logging its pre-deletion image.
func (r *Repository) DeleteKnowledgeItem(id string) error {
	existing, err := r.GetKnowledgeItem(id)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`DELETE FROM knowledge_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete knowledge item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logMutation("knowledge_item.delete", rowImage(existing))
	}
	return nil
}
