// Package warstate defines the domain records for the galactic war feed:
// the war summary, per-planet status, and active campaigns. The upstream
// package decodes API responses into these types and the state cache hands
// read-only copies of them to tool and resource handlers.
package warstate

import (
	"strconv"
	"strings"
)

// Faction owners as reported by the upstream feed.
const (
	OwnerHumans      = "Humans"
	OwnerTerminids   = "Terminids"
	OwnerAutomatons  = "Automatons"
	OwnerIlluminates = "Illuminate"
)

// WarStatus is the full upstream view of the galactic war at a point in time.
type WarStatus struct {
	WarID            int64          `json:"warId"`
	Time             int64          `json:"time"`
	ImpactMultiplier float64        `json:"impactMultiplier"`
	Planets          []PlanetStatus `json:"planets"`
	Campaigns        []Campaign     `json:"campaigns"`
}

// PlanetStatus describes one planet's liberation state.
type PlanetStatus struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Owner          string  `json:"owner"`
	Health         int64   `json:"health"`
	MaxHealth      int64   `json:"maxHealth"`
	Players        int64   `json:"players"`
	RegenPerSecond float64 `json:"regenPerSecond"`
}

// Campaign is an active offensive or defensive operation on a planet.
type Campaign struct {
	ID          int64 `json:"id"`
	PlanetIndex int   `json:"planetIndex"`
	Type        int   `json:"type"`
	Count       int   `json:"count"`
}

// LiberationPercent reports how far the planet is from enemy control, in
// [0, 100]. A planet with zero max health reports 0.
func (p PlanetStatus) LiberationPercent() float64 {
	if p.MaxHealth <= 0 {
		return 0
	}
	return 100 * float64(p.Health) / float64(p.MaxHealth)
}

// PlanetByIndex returns the planet with the given upstream index.
func (w *WarStatus) PlanetByIndex(index int) (PlanetStatus, bool) {
	for _, p := range w.Planets {
		if p.Index == index {
			return p, true
		}
	}
	return PlanetStatus{}, false
}

// PlanetByName returns the planet with the given name, compared
// case-insensitively.
func (w *WarStatus) PlanetByName(name string) (PlanetStatus, bool) {
	for _, p := range w.Planets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PlanetStatus{}, false
}

// LookupPlanet resolves a planet by numeric index or by name. A value that
// parses as an integer is treated as an index.
func (w *WarStatus) LookupPlanet(ref string) (PlanetStatus, bool) {
	ref = strings.TrimSpace(ref)
	if idx, err := strconv.Atoi(ref); err == nil {
		return w.PlanetByIndex(idx)
	}
	return w.PlanetByName(ref)
}

// TotalPlayers sums player counts across all planets.
func (w *WarStatus) TotalPlayers() int64 {
	var n int64
	for _, p := range w.Planets {
		n += p.Players
	}
	return n
}

// ActiveCampaignPlanets returns the planet statuses referenced by active
// campaigns, preserving campaign order. Campaigns pointing at unknown planet
// indexes are skipped.
func (w *WarStatus) ActiveCampaignPlanets() []PlanetStatus {
	out := make([]PlanetStatus, 0, len(w.Campaigns))
	for _, c := range w.Campaigns {
		if p, ok := w.PlanetByIndex(c.PlanetIndex); ok {
			out = append(out, p)
		}
	}
	return out
}
