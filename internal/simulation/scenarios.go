// Package simulation holds the built-in disruption scenarios. An active
// scenario overrides live evidence or inventory for the places it names.
package simulation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kalambet/fcsentinel/internal/storage"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is a canned disruption. Exactly one of Category or Inventory is
// meaningful: evidence scenarios cover Cities, inventory scenarios cover FCIDs.
type Scenario struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Cities      []string `json:"cities,omitempty"`
	FCIDs       []string `json:"fc_ids,omitempty"`

	record    func(city string, at time.Time) storage.EvidenceRecord
	inventory []storage.InventoryRecord
}

const (
	HurricaneEastCoast     = "Hurricane in East Coast"
	LaborStrikeChicago     = "Labor Strike in Chicago"
	LowMedicalStockSeattle = "Low Inventory for Medical Supplies in Seattle"
)

var builtin = []Scenario{
	{
		Name:        HurricaneEastCoast,
		Category:    storage.CategoryWeather,
		Description: "Category 4 hurricane with heavy rain and high winds",
		Cities:      []string{"New York", "Newark", "Philadelphia", "Boston", "Baltimore", "Washington"},
		record: func(city string, at time.Time) storage.EvidenceRecord {
			return storage.EvidenceRecord{
				ID:        "sim-hurricane-" + slug(city),
				Category:  storage.CategoryWeather,
				Location:  city,
				Title:     "hurricane",
				Detail:    "Category 4 hurricane with heavy rain and high winds",
				Source:    "simulation",
				Signal:    "25",
				Timestamp: at,
			}
		},
	},
	{
		Name:        LaborStrikeChicago,
		Category:    storage.CategoryLabor,
		Description: "Workers on strike at major FCs",
		Cities:      []string{"Chicago"},
		record: func(city string, at time.Time) storage.EvidenceRecord {
			return storage.EvidenceRecord{
				ID:        "sim-strike-" + slug(city),
				Category:  storage.CategoryLabor,
				Location:  city,
				Title:     "Labor strike",
				Detail:    "Workers on strike at major FCs",
				Source:    "simulation",
				Signal:    "high",
				Timestamp: at,
			}
		},
	},
	{
		Name:        LowMedicalStockSeattle,
		Category:    "inventory",
		Description: "Medical supplies SKU depleted, second SKU running low",
		FCIDs:       []string{"Seattle FC 3"},
		inventory: []storage.InventoryRecord{
			{SKU: "B07CZQ56VA", Category: "Medical Supplies", Description: "Critical medical item", Quantity: 0, Emergency: true},
			{SKU: "B08XYZ1234", Category: "General", Description: "General item", Quantity: 10},
		},
	},
}

// Scenarios returns the built-in scenarios in a stable order.
func Scenarios() []Scenario {
	out := make([]Scenario, len(builtin))
	copy(out, builtin)
	return out
}

func lookup(name string) (Scenario, bool) {
	for _, s := range builtin {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Scenario{}, false
}

// Set is the collection of active scenarios. It is safe for concurrent use
// and satisfies evidence.OverrideSource.
type Set struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	active map[string]time.Time // scenario name -> activation time
}

func NewSet(clock clockwork.Clock) *Set {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Set{clock: clock, active: make(map[string]time.Time)}
}

// Activate turns on the named scenarios. Re-activating a scenario restamps
// its records. Nothing changes if any name is unknown.
func (s *Set) Activate(names ...string) error {
	resolved := make([]string, 0, len(names))
	for _, n := range names {
		sc, ok := lookup(n)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownScenario, n)
		}
		resolved = append(resolved, sc.Name)
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range resolved {
		s.active[n] = now
	}
	return nil
}

// Replace makes names the exact active set.
func (s *Set) Replace(names ...string) error {
	for _, n := range names {
		if _, ok := lookup(n); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownScenario, n)
		}
	}
	s.Clear()
	return s.Activate(names...)
}

func (s *Set) Clear() {
	s.mu.Lock()
	s.active = make(map[string]time.Time)
	s.mu.Unlock()
}

// Active returns the active scenario names, sorted.
func (s *Set) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for n := range s.active {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Override returns the simulated records for category in city. The second
// result is false when no active scenario covers them.
func (s *Set) Override(category, city string) ([]storage.EvidenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recs []storage.EvidenceRecord
	matched := false
	for _, sc := range builtin {
		at, on := s.active[sc.Name]
		if !on || sc.record == nil || sc.Category != category || !containsFold(sc.Cities, city) {
			continue
		}
		matched = true
		recs = append(recs, sc.record(city, at))
	}
	return recs, matched
}

// InventoryOverride returns the simulated inventory sample for fcID.
func (s *Set) InventoryOverride(fcID string) ([]storage.InventoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var inv []storage.InventoryRecord
	matched := false
	for _, sc := range builtin {
		at, on := s.active[sc.Name]
		if !on || sc.inventory == nil || !containsFold(sc.FCIDs, fcID) {
			continue
		}
		matched = true
		for _, r := range sc.inventory {
			r.FCID = fcID
			r.UpdatedAt = at
			inv = append(inv, r)
		}
	}
	return inv, matched
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "-"))
}
