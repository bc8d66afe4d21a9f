// Package evidence assembles the per-FC evidence bundle fed to the risk
// oracle: the newest records of each category inside the evidence window,
// plus an inventory sample.
package evidence

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/fcsentinel/internal/storage"
)

// Categories in prompt order.
var Categories = []string{
	storage.CategoryWeather,
	storage.CategorySocial,
	storage.CategoryNews,
	storage.CategoryLabor,
	storage.CategoryLogistics,
}

// InventorySection is the Bundle.Errors key for inventory sample failures.
const InventorySection = "inventory"

// Store is the read side of the evidence store used by the aggregator.
type Store interface {
	RecentEvidence(ctx context.Context, category, city string, since time.Time, limit int) ([]storage.EvidenceRecord, error)
	ListInventory(ctx context.Context, fcID string, limit int) ([]storage.InventoryRecord, error)
}

// OverrideSource supplies simulated evidence. When Override reports true
// for a category, its records replace the live query for that category.
type OverrideSource interface {
	Override(category, city string) ([]storage.EvidenceRecord, bool)
	InventoryOverride(fcID string) ([]storage.InventoryRecord, bool)
}

type Options struct {
	Window         time.Duration // records older than now-Window are ignored
	Limit          int           // per-category cap; 0 means no cap
	InventoryLimit int
}

// Bundle is everything the oracle sees about one FC.
type Bundle struct {
	FCID      string
	FCName    string
	City      string
	AsOf      time.Time
	Sections  map[string][]storage.EvidenceRecord
	Inventory []storage.InventoryRecord
	// Errors holds per-section query failures. A failed section is empty.
	Errors map[string]string
	// Simulated lists the sections that came from an override.
	Simulated []string
}

// Section returns the records for category, newest first.
func (b Bundle) Section(category string) []storage.EvidenceRecord {
	return b.Sections[category]
}

type Aggregator struct {
	store     Store
	overrides OverrideSource
	opts      Options
	logger    *slog.Logger
}

// New creates an Aggregator. overrides may be nil.
func New(store Store, overrides OverrideSource, opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Aggregator{
		store:     store,
		overrides: overrides,
		opts:      opts,
		logger:    slog.Default(),
	}
}

// AssembleEvidence builds the bundle for fc as of now. It never fails: a
// section whose query errors is logged, recorded in Bundle.Errors and left
// empty.
func (a *Aggregator) AssembleEvidence(ctx context.Context, fc storage.FulfillmentCenter, now time.Time) Bundle {
	since := now.Add(-a.opts.Window)
	b := Bundle{
		FCID:     fc.ID,
		FCName:   fc.Name,
		City:     fc.City,
		AsOf:     now,
		Sections: make(map[string][]storage.EvidenceRecord, len(Categories)),
		Errors:   make(map[string]string),
	}

	for _, cat := range Categories {
		if a.overrides != nil {
			if recs, ok := a.overrides.Override(cat, fc.City); ok {
				b.Sections[cat] = window(recs, since, a.opts.Limit)
				b.Simulated = append(b.Simulated, cat)
				continue
			}
		}
		recs, err := a.store.RecentEvidence(ctx, cat, fc.City, since, a.opts.Limit)
		if err != nil {
			a.logger.Warn("evidence query failed, using empty section",
				"fc_id", fc.ID, "category", cat, "error", err)
			b.Errors[cat] = err.Error()
			recs = nil
		}
		b.Sections[cat] = recs
	}

	if a.overrides != nil {
		if inv, ok := a.overrides.InventoryOverride(fc.ID); ok {
			b.Inventory = capInventory(inv, a.opts.InventoryLimit)
			b.Simulated = append(b.Simulated, InventorySection)
			return b
		}
	}
	inv, err := a.store.ListInventory(ctx, fc.ID, a.opts.InventoryLimit)
	if err != nil {
		a.logger.Warn("inventory sample failed, using empty section", "fc_id", fc.ID, "error", err)
		b.Errors[InventorySection] = err.Error()
		inv = nil
	}
	b.Inventory = inv
	return b
}

// window applies the live query's rules to override records: drop records
// older than since, order newest first, cap at limit.
func window(recs []storage.EvidenceRecord, since time.Time, limit int) []storage.EvidenceRecord {
	out := make([]storage.EvidenceRecord, 0, len(recs))
	for _, r := range recs {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func capInventory(inv []storage.InventoryRecord, limit int) []storage.InventoryRecord {
	if limit > 0 && len(inv) > limit {
		return inv[:limit]
	}
	return inv
}
