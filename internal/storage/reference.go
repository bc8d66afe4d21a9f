package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Fulfillment centers ---

const fcColumns = `fc_id, name, city, latitude, longitude, cost_multiplier, lead_time_adder_days,
	current_risk_score, risk_status, contingency_summary, reasoning, last_evaluated_at, last_error`

// UpsertFC writes the reference fields of an FC. Risk fields of an existing
// row are left untouched.
func (s *Store) UpsertFC(ctx context.Context, fc FulfillmentCenter) error {
	if fc.ID == "" {
		return fmt.Errorf("%w: fc_id is required", ErrInvalid)
	}
	mult := fc.CostMultiplier
	if mult < 1.0 {
		mult = 1.0
	}
	adder := fc.LeadTimeAdderDays
	if adder < 0 {
		adder = 0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillment_centers (fc_id, name, city, latitude, longitude, cost_multiplier, lead_time_adder_days)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fc_id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			cost_multiplier = excluded.cost_multiplier,
			lead_time_adder_days = excluded.lead_time_adder_days`,
		fc.ID, fc.Name, fc.City, fc.Latitude, fc.Longitude, mult, adder,
	)
	if err != nil {
		return fmt.Errorf("upserting fc %s: %w", fc.ID, err)
	}
	return nil
}

func (s *Store) GetFC(ctx context.Context, id string) (FulfillmentCenter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fcColumns+` FROM fulfillment_centers WHERE fc_id = ?`, id)
	fc, err := scanFC(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FulfillmentCenter{}, ErrNotFound
	}
	return fc, err
}

// ListFCs returns every FC ordered by identifier.
func (s *Store) ListFCs(ctx context.Context) ([]FulfillmentCenter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fcColumns+` FROM fulfillment_centers ORDER BY fc_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing fcs: %w", err)
	}
	defer rows.Close()

	var result []FulfillmentCenter
	for rows.Next() {
		fc, err := scanFC(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fc)
	}
	return result, rows.Err()
}

// UpdateFCRisk stores the outcome of the latest evaluation on the FC row.
func (s *Store) UpdateFCRisk(ctx context.Context, id string, score float64, status, summary, reasoning string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fulfillment_centers
		SET current_risk_score = ?, risk_status = ?, contingency_summary = ?, reasoning = ?, last_evaluated_at = ?, last_error = ''
		WHERE fc_id = ?`,
		score, status, summary, reasoning, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating risk for %s: %w", id, err)
	}
	return requireRow(res)
}

// MarkFCFailed records a failed evaluation on the FC row. Score and status
// are cleared so the row cannot be mistaken for the previous verdict.
func (s *Store) MarkFCFailed(ctx context.Context, id, summary, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fulfillment_centers
		SET current_risk_score = 0, risk_status = '', contingency_summary = ?, last_evaluated_at = ?, last_error = ?
		WHERE fc_id = ?`,
		summary, formatTime(at), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("marking %s failed: %w", id, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFC(sc scanner) (FulfillmentCenter, error) {
	var fc FulfillmentCenter
	var evaluatedAt string
	if err := sc.Scan(&fc.ID, &fc.Name, &fc.City, &fc.Latitude, &fc.Longitude, &fc.CostMultiplier,
		&fc.LeadTimeAdderDays, &fc.RiskScore, &fc.RiskStatus, &fc.ContingencySummary, &fc.Reasoning, &evaluatedAt, &fc.LastError); err != nil {
		return FulfillmentCenter{}, err
	}
	t, err := parseTime("last_evaluated_at", evaluatedAt)
	if err != nil {
		return FulfillmentCenter{}, err
	}
	fc.LastEvaluatedAt = t
	return fc, nil
}

// --- Inventory ---

// UpsertInventory writes one (fc_id, sku) record.
func (s *Store) UpsertInventory(ctx context.Context, rec InventoryRecord) error {
	if rec.FCID == "" || rec.SKU == "" {
		return fmt.Errorf("%w: fc_id and sku are required", ErrInvalid)
	}
	if rec.Quantity < 0 {
		return fmt.Errorf("%w: quantity for %s/%s must not be negative", ErrInvalid, rec.FCID, rec.SKU)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (fc_id, sku, category, description, quantity, emergency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fc_id, sku) DO UPDATE SET
			category = excluded.category,
			description = excluded.description,
			quantity = excluded.quantity,
			emergency = excluded.emergency,
			updated_at = excluded.updated_at`,
		rec.FCID, rec.SKU, rec.Category, rec.Description, rec.Quantity, boolToInt(rec.Emergency), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("upserting inventory %s/%s: %w", rec.FCID, rec.SKU, err)
	}
	return nil
}

// ListInventory returns up to limit records for an FC ordered by SKU.
// A limit <= 0 returns everything.
func (s *Store) ListInventory(ctx context.Context, fcID string, limit int) ([]InventoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fc_id, sku, category, description, quantity, emergency, updated_at
		FROM inventory WHERE fc_id = ? ORDER BY sku ASC LIMIT ?`, fcID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing inventory for %s: %w", fcID, err)
	}
	defer rows.Close()

	var result []InventoryRecord
	for rows.Next() {
		var rec InventoryRecord
		var emergency int
		var updated string
		if err := rows.Scan(&rec.FCID, &rec.SKU, &rec.Category, &rec.Description, &rec.Quantity, &emergency, &updated); err != nil {
			return nil, err
		}
		rec.Emergency = emergency != 0
		if rec.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// InventoryQuantity returns the on-hand quantity of sku at fcID, or
// ErrNotFound when the FC does not stock it.
func (s *Store) InventoryQuantity(ctx context.Context, fcID, sku string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE fc_id = ? AND sku = ?`, fcID, sku).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading inventory %s/%s: %w", fcID, sku, err)
	}
	return qty, nil
}

// --- Shipments ---

func (s *Store) UpsertShipment(ctx context.Context, sh Shipment) error {
	if sh.ID == "" || sh.SKU == "" || sh.SourceFCID == "" {
		return fmt.Errorf("%w: shipment_id, sku and source_fc_id are required", ErrInvalid)
	}
	if sh.Quantity <= 0 {
		return fmt.Errorf("%w: shipment %s: quantity must be positive", ErrInvalid, sh.ID)
	}
	if !ValidShipmentStatus(sh.Status) {
		return fmt.Errorf("%w: shipment %s: unknown status %q", ErrInvalid, sh.ID, sh.Status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shipments (shipment_id, sku, quantity, status, source_fc_id, destination_lat, destination_lon, base_cost, base_lead_time_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shipment_id) DO UPDATE SET
			sku = excluded.sku,
			quantity = excluded.quantity,
			status = excluded.status,
			source_fc_id = excluded.source_fc_id,
			destination_lat = excluded.destination_lat,
			destination_lon = excluded.destination_lon,
			base_cost = excluded.base_cost,
			base_lead_time_days = excluded.base_lead_time_days`,
		sh.ID, sh.SKU, sh.Quantity, sh.Status, sh.SourceFCID,
		nullFloat(sh.DestLat), nullFloat(sh.DestLon), sh.BaseCost, sh.BaseLeadTimeDays,
	)
	if err != nil {
		return fmt.Errorf("upserting shipment %s: %w", sh.ID, err)
	}
	return nil
}

// ActiveShipments returns shipments of sku leaving sourceFCID that have not
// been delivered yet, ordered by shipment id.
func (s *Store) ActiveShipments(ctx context.Context, sourceFCID, sku string) ([]Shipment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shipment_id, sku, quantity, status, source_fc_id, destination_lat, destination_lon, base_cost, base_lead_time_days
		FROM shipments
		WHERE source_fc_id = ? AND sku = ? AND status != ?
		ORDER BY shipment_id ASC`, sourceFCID, sku, ShipmentDelivered)
	if err != nil {
		return nil, fmt.Errorf("querying shipments for %s/%s: %w", sourceFCID, sku, err)
	}
	defer rows.Close()

	var result []Shipment
	for rows.Next() {
		var sh Shipment
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&sh.ID, &sh.SKU, &sh.Quantity, &sh.Status, &sh.SourceFCID, &lat, &lon, &sh.BaseCost, &sh.BaseLeadTimeDays); err != nil {
			return nil, err
		}
		if lat.Valid {
			sh.DestLat = &lat.Float64
		}
		if lon.Valid {
			sh.DestLon = &lon.Float64
		}
		result = append(result, sh)
	}
	return result, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
