package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// --- Verdicts ---

// SaveVerdict replaces the stored verdict for v.FCID.
func (s *Store) SaveVerdict(ctx context.Context, v VerdictRecord) error {
	classifications := v.ClassificationsJSON
	if classifications == "" {
		classifications = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts (fc_id, score, status, reasoning, classifications_json, prompt, raw_reply, oracle_error, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fc_id) DO UPDATE SET
			score = excluded.score,
			status = excluded.status,
			reasoning = excluded.reasoning,
			classifications_json = excluded.classifications_json,
			prompt = excluded.prompt,
			raw_reply = excluded.raw_reply,
			oracle_error = excluded.oracle_error,
			evaluated_at = excluded.evaluated_at`,
		v.FCID, v.Score, v.Status, v.Reasoning, classifications, v.Prompt, v.RawReply, v.OracleError, formatTime(v.EvaluatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving verdict for %s: %w", v.FCID, err)
	}
	return nil
}

func (s *Store) GetVerdict(ctx context.Context, fcID string) (VerdictRecord, error) {
	var v VerdictRecord
	var evaluatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT fc_id, score, status, reasoning, classifications_json, prompt, raw_reply, oracle_error, evaluated_at
		FROM verdicts WHERE fc_id = ?`, fcID,
	).Scan(&v.FCID, &v.Score, &v.Status, &v.Reasoning, &v.ClassificationsJSON, &v.Prompt, &v.RawReply, &v.OracleError, &evaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VerdictRecord{}, ErrNotFound
	}
	if err != nil {
		return VerdictRecord{}, fmt.Errorf("reading verdict for %s: %w", fcID, err)
	}
	if v.EvaluatedAt, err = parseTime("evaluated_at", evaluatedAt); err != nil {
		return VerdictRecord{}, err
	}
	return v, nil
}

// --- Plans ---

func (s *Store) SavePlan(ctx context.Context, p PlanRecord) error {
	decisions := p.DecisionsJSON
	if decisions == "" {
		decisions = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (fc_id, summary, gated, decisions_json, evaluated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fc_id) DO UPDATE SET
			summary = excluded.summary,
			gated = excluded.gated,
			decisions_json = excluded.decisions_json,
			evaluated_at = excluded.evaluated_at`,
		p.FCID, p.Summary, boolToInt(p.Gated), decisions, formatTime(p.EvaluatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving plan for %s: %w", p.FCID, err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, fcID string) (PlanRecord, error) {
	var p PlanRecord
	var gated int
	var evaluatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT fc_id, summary, gated, decisions_json, evaluated_at FROM plans WHERE fc_id = ?`, fcID,
	).Scan(&p.FCID, &p.Summary, &gated, &p.DecisionsJSON, &evaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return PlanRecord{}, fmt.Errorf("reading plan for %s: %w", fcID, err)
	}
	p.Gated = gated != 0
	if p.EvaluatedAt, err = parseTime("evaluated_at", evaluatedAt); err != nil {
		return PlanRecord{}, err
	}
	return p, nil
}

// --- History ---

// AppendSnapshot records one evaluation in the append-only risk history.
func (s *Store) AppendSnapshot(ctx context.Context, snap RiskSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_history (fc_id, cycle_id, score, status, summary, error, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.FCID, snap.CycleID, snap.Score, snap.Status, snap.Summary, snap.Error, formatTime(snap.EvaluatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending snapshot for %s: %w", snap.FCID, err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots for fcID, newest first.
func (s *Store) ListSnapshots(ctx context.Context, fcID string, limit int) ([]RiskSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fc_id, cycle_id, score, status, summary, error, evaluated_at
		FROM risk_history WHERE fc_id = ?
		ORDER BY id DESC LIMIT ?`, fcID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", fcID, err)
	}
	defer rows.Close()

	var result []RiskSnapshot
	for rows.Next() {
		var snap RiskSnapshot
		var evaluatedAt string
		if err := rows.Scan(&snap.ID, &snap.FCID, &snap.CycleID, &snap.Score, &snap.Status, &snap.Summary, &snap.Error, &evaluatedAt); err != nil {
			return nil, err
		}
		if snap.EvaluatedAt, err = parseTime("evaluated_at", evaluatedAt); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}
