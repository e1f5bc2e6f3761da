package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

func (r *Repository) AddInsight(in model.Insight) (model.Insight, error) {
	if err := in.Validate(); err != nil {
		return model.Insight{}, err
	}
	id, err := canonical.ID(in.CreationInputs())
	if err != nil {
		return model.Insight{}, err
	}
	in.ID = id

	related, err := marshalStrings(in.RelatedSubjects)
	if err != nil {
		return model.Insight{}, err
	}
	metaTags, err := marshalStrings(in.MetaTags)
	if err != nil {
		return model.Insight{}, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO insights (id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.Pattern, in.Description, in.Confidence, in.Frequency, related, metaTags, model.NowISO(),
	)
	if err != nil {
		return model.Insight{}, fmt.Errorf("repo: add insight: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.Insight{}, err
	}
	stored, err := r.GetInsight(id)
	if err != nil {
		return model.Insight{}, err
	}
	if inserted {
		r.logMutation("insight.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetInsight(id string) (model.Insight, error) {
	row := r.db.QueryRow(
		`SELECT id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at
		 FROM insights WHERE id = ?`, id,
	)
	var in model.Insight
	var related, metaTags string
	err := row.Scan(&in.ID, &in.Pattern, &in.Description, &in.Confidence, &in.Frequency, &related, &metaTags, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Insight{}, notFound("Insight", id)
	}
	if err != nil {
		return model.Insight{}, fmt.Errorf("repo: scan insight: %w", err)
	}
	in.RelatedSubjects = unmarshalStrings(related)
	in.MetaTags = unmarshalStrings(metaTags)
	return in, nil
}

// ListInsightsAboveConfidence returns insights with confidence >= threshold,
// the curate promotion candidate query (spec §4.I).
func (r *Repository) ListInsightsAboveConfidence(threshold float64) ([]model.Insight, error) {
	rows, err := r.db.Query(
		`SELECT id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at
		 FROM insights WHERE confidence >= ? ORDER BY confidence DESC, created_at ASC`, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list insights: %w", err)
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		var in model.Insight
		var related, metaTags string
		if err := rows.Scan(&in.ID, &in.Pattern, &in.Description, &in.Confidence, &in.Frequency, &related, &metaTags, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan insight: %w", err)
		}
		in.RelatedSubjects = unmarshalStrings(related)
		in.MetaTags = unmarshalStrings(metaTags)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteInsight(id string) error {
	existing, err := r.GetInsight(id)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`DELETE FROM insights WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logMutation("insight.delete", rowImage(existing))
	}
	return nil
}
