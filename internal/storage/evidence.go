package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Evidence categories.
const (
	CategoryWeather   = "weather"
	CategoryNews      = "news"
	CategorySocial    = "social"
	CategoryLabor     = "labor"
	CategoryLogistics = "logistics"
)

// ValidCategory reports whether c is one of the five evidence categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryWeather, CategoryNews, CategorySocial, CategoryLabor, CategoryLogistics:
		return true
	}
	return false
}

// UpsertEvidence inserts rec, or replaces the record with the same
// (category, location, dedup_key). An empty dedup key defaults to the
// record's unix timestamp, so re-ingesting the same scrape is a no-op.
func (s *Store) UpsertEvidence(ctx context.Context, rec EvidenceRecord) (EvidenceRecord, error) {
	if !ValidCategory(rec.Category) {
		return EvidenceRecord{}, fmt.Errorf("%w: unknown evidence category %q", ErrInvalid, rec.Category)
	}
	if rec.Location == "" {
		return EvidenceRecord{}, fmt.Errorf("%w: evidence location is required", ErrInvalid)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock.Now()
	}
	if rec.DedupKey == "" {
		rec.DedupKey = strconv.FormatInt(rec.Timestamp.Unix(), 10)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evidence (id, category, location, title, detail, source, signal, timestamp, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, location, dedup_key) DO UPDATE SET
			title = excluded.title,
			detail = excluded.detail,
			source = excluded.source,
			signal = excluded.signal,
			timestamp = excluded.timestamp
		RETURNING id`,
		rec.ID, rec.Category, rec.Location, rec.Title, rec.Detail, rec.Source, rec.Signal,
		rec.Timestamp.Unix(), rec.DedupKey,
	).Scan(&rec.ID)
	if err != nil {
		return EvidenceRecord{}, fmt.Errorf("upserting %s evidence for %s: %w", rec.Category, rec.Location, err)
	}
	rec.Timestamp = time.Unix(rec.Timestamp.Unix(), 0).UTC()
	return rec, nil
}

// RecentEvidence returns category records for city with timestamp >= since,
// newest first. City matching is case-insensitive. limit <= 0 means no cap.
func (s *Store) RecentEvidence(ctx context.Context, category, city string, since time.Time, limit int) ([]EvidenceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, location, title, detail, source, signal, timestamp, dedup_key
		FROM evidence
		WHERE category = ? AND location = ? COLLATE NOCASE AND timestamp >= ?
		ORDER BY timestamp DESC, id ASC
		LIMIT ?`, category, city, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying %s evidence for %s: %w", category, city, err)
	}
	defer rows.Close()

	var result []EvidenceRecord
	for rows.Next() {
		var rec EvidenceRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Location, &rec.Title, &rec.Detail,
			&rec.Source, &rec.Signal, &ts, &rec.DedupKey); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

// PurgeEvidence deletes every record older than before and reports how many
// rows went away.
func (s *Store) PurgeEvidence(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evidence WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging evidence: %w", err)
	}
	return res.RowsAffected()
}
