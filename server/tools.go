package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/mcpservice"
	"github.com/galactic-tools/warwatch/sessions"
	"github.com/galactic-tools/warwatch/statecache"
	"github.com/galactic-tools/warwatch/warstate"
)

// noArgs is the argument type for tools that take no input.
type noArgs struct{}

// errNoSnapshot is the only case where an upstream problem surfaces as a
// tool-call error: nothing has ever been fetched, so there is nothing stale
// to serve.
func errNoSnapshot() error {
	return &jsonrpc.Error{
		Code:    jsonrpc.ErrorCodeUpstreamUnavailable,
		Message: "no war status available yet: upstream has never been reached",
	}
}

// WarStatusSummary is the structured output of get_war_status.
type WarStatusSummary struct {
	WarID            int64   `json:"warId" jsonschema:"description=Upstream war identifier"`
	Time             int64   `json:"time" jsonschema:"description=Upstream war clock"`
	ImpactMultiplier float64 `json:"impactMultiplier"`
	TotalPlayers     int64   `json:"totalPlayers" jsonschema:"description=Players across all planets"`
	PlanetCount      int     `json:"planetCount"`
	ActiveCampaigns  int     `json:"activeCampaigns"`
	SnapshotVersion  uint64  `json:"snapshotVersion"`
	RetrievedAt      string  `json:"retrievedAt" jsonschema:"description=RFC 3339 time the snapshot was fetched"`
	Stale            bool    `json:"stale" jsonschema:"description=True when the snapshot is older than the freshness threshold"`
}

// PlanetReport is the structured output of get_planet_status.
type PlanetReport struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	Owner             string  `json:"owner"`
	Health            int64   `json:"health"`
	MaxHealth         int64   `json:"maxHealth"`
	LiberationPercent float64 `json:"liberationPercent"`
	Players           int64   `json:"players"`
	RegenPerSecond    float64 `json:"regenPerSecond"`
	Stale             bool    `json:"stale"`
}

// CampaignReport is one entry in list_active_campaigns output.
type CampaignReport struct {
	ID                int64   `json:"id"`
	PlanetIndex       int     `json:"planetIndex"`
	PlanetName        string  `json:"planetName,omitempty"`
	Owner             string  `json:"owner,omitempty"`
	LiberationPercent float64 `json:"liberationPercent"`
	Players           int64   `json:"players"`
}

// CampaignsSummary is the structured output of list_active_campaigns.
type CampaignsSummary struct {
	Campaigns []CampaignReport `json:"campaigns"`
	Stale     bool             `json:"stale"`
}

// annotateStaleness stamps the staleness flag and snapshot age onto the
// result metadata so callers can decide whether to trust old data.
func annotateStaleness(w mcpservice.ToolResponseWriter, cache *statecache.Cache, snap *statecache.Snapshot) bool {
	stale := cache.Stale(snap)
	if stale {
		w.SetMeta("stale", true)
		w.SetMeta("snapshotAge", snap.Age().Round(time.Second).Seconds())
	}
	w.SetMeta("snapshotVersion", snap.Version)
	return stale
}

func summarize(cache *statecache.Cache, snap *statecache.Snapshot) WarStatusSummary {
	st := snap.Status
	return WarStatusSummary{
		WarID:            st.WarID,
		Time:             st.Time,
		ImpactMultiplier: st.ImpactMultiplier,
		TotalPlayers:     st.TotalPlayers(),
		PlanetCount:      len(st.Planets),
		ActiveCampaigns:  len(st.Campaigns),
		SnapshotVersion:  snap.Version,
		RetrievedAt:      snap.FetchedAt.UTC().Format(time.RFC3339),
		Stale:            cache.Stale(snap),
	}
}

func newGetWarStatusTool(cache *statecache.Cache) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput[noArgs, WarStatusSummary](
		"get_war_status",
		func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriterTyped[WarStatusSummary], r *mcpservice.ToolRequest[noArgs]) error {
			snap := cache.Snapshot()
			if snap == nil {
				return errNoSnapshot()
			}
			stale := annotateStaleness(w, cache, snap)
			sum := summarize(cache, snap)
			w.SetStructured(sum)

			text := fmt.Sprintf("War %d: %d players across %d planets, %d active campaigns (impact x%.2f).",
				sum.WarID, sum.TotalPlayers, sum.PlanetCount, sum.ActiveCampaigns, sum.ImpactMultiplier)
			if stale {
				text += fmt.Sprintf(" Data is %s old and may be outdated.", snap.Age().Round(time.Second))
			}
			return w.AppendText(text)
		},
		mcpservice.WithToolDescription("Get the current galactic war status: player totals, planet count, and active campaigns."),
	)
}

// GetPlanetStatusArgs selects a planet by name or numeric index.
type GetPlanetStatusArgs struct {
	Planet string `json:"planet" jsonschema:"required,description=Planet name or numeric planet index"`
}

func newGetPlanetStatusTool(cache *statecache.Cache) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput[GetPlanetStatusArgs, PlanetReport](
		"get_planet_status",
		func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriterTyped[PlanetReport], r *mcpservice.ToolRequest[GetPlanetStatusArgs]) error {
			snap := cache.Snapshot()
			if snap == nil {
				return errNoSnapshot()
			}
			args := r.Args()
			if args.Planet == "" {
				return &mcpservice.ArgumentError{Tool: r.Name(), Field: "planet", Detail: "must not be empty"}
			}
			p, ok := snap.Status.LookupPlanet(args.Planet)
			if !ok {
				w.SetError(true)
				return w.AppendText(fmt.Sprintf("No planet matches %q in the current war snapshot.", args.Planet))
			}
			stale := annotateStaleness(w, cache, snap)
			w.SetStructured(planetReport(p, stale))
			return w.AppendText(fmt.Sprintf("%s (index %d): held by %s, %.1f%% liberated, %d players engaged.",
				p.Name, p.Index, p.Owner, p.LiberationPercent(), p.Players))
		},
		mcpservice.WithToolDescription("Get liberation status for a single planet, by name or index."),
	)
}

func planetReport(p warstate.PlanetStatus, stale bool) PlanetReport {
	return PlanetReport{
		Index:             p.Index,
		Name:              p.Name,
		Owner:             p.Owner,
		Health:            p.Health,
		MaxHealth:         p.MaxHealth,
		LiberationPercent: p.LiberationPercent(),
		Players:           p.Players,
		RegenPerSecond:    p.RegenPerSecond,
		Stale:             stale,
	}
}

func newListActiveCampaignsTool(cache *statecache.Cache) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput[noArgs, CampaignsSummary](
		"list_active_campaigns",
		func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriterTyped[CampaignsSummary], r *mcpservice.ToolRequest[noArgs]) error {
			snap := cache.Snapshot()
			if snap == nil {
				return errNoSnapshot()
			}
			stale := annotateStaleness(w, cache, snap)

			st := snap.Status
			out := CampaignsSummary{Campaigns: make([]CampaignReport, 0, len(st.Campaigns)), Stale: stale}
			for _, c := range st.Campaigns {
				cr := CampaignReport{ID: c.ID, PlanetIndex: c.PlanetIndex}
				if p, ok := st.PlanetByIndex(c.PlanetIndex); ok {
					cr.PlanetName = p.Name
					cr.Owner = p.Owner
					cr.LiberationPercent = p.LiberationPercent()
					cr.Players = p.Players
				}
				out.Campaigns = append(out.Campaigns, cr)
			}
			w.SetStructured(out)

			if len(out.Campaigns) == 0 {
				return w.AppendText("No active campaigns.")
			}
			text := fmt.Sprintf("%d active campaigns:", len(out.Campaigns))
			for _, c := range out.Campaigns {
				text += fmt.Sprintf("\n- %s (index %d): %.1f%% liberated, %d players",
					c.PlanetName, c.PlanetIndex, c.LiberationPercent, c.Players)
			}
			return w.AppendText(text)
		},
		mcpservice.WithToolDescription("List planets with active campaigns and their liberation progress."),
	)
}

func newRefreshWarStatusTool(cache *statecache.Cache, log *slog.Logger) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput[noArgs, WarStatusSummary](
		"refresh_war_status",
		func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriterTyped[WarStatusSummary], r *mcpservice.ToolRequest[noArgs]) error {
			snap, err := cache.Refresh(ctx)
			if err != nil {
				// Degrade to the cached snapshot when one exists.
				snap = cache.Snapshot()
				if snap == nil {
					return errNoSnapshot()
				}
				log.InfoContext(ctx, "tool.refresh.stale_fallback", slog.String("err", err.Error()))
				annotateStaleness(w, cache, snap)
				w.SetStructured(summarize(cache, snap))
				return w.AppendText(fmt.Sprintf(
					"Refresh failed (%v); serving the last snapshot from %s.",
					err, snap.FetchedAt.UTC().Format(time.RFC3339)))
			}
			annotateStaleness(w, cache, snap)
			w.SetStructured(summarize(cache, snap))
			return w.AppendText(fmt.Sprintf("Refreshed. Snapshot version %d fetched at %s.",
				snap.Version, snap.FetchedAt.UTC().Format(time.RFC3339)))
		},
		mcpservice.WithToolDescription("Force an immediate upstream refresh; concurrent refreshes share one fetch."),
	)
}
