package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/mcpservice"
	"github.com/galactic-tools/warwatch/sessions"
	"github.com/galactic-tools/warwatch/statecache"
)

const jsonMimeType = "application/json"

// resourceEnvelope wraps a resource payload with snapshot provenance so
// readers can tell how old the data is without a separate tool call.
type resourceEnvelope struct {
	SnapshotVersion uint64 `json:"snapshotVersion"`
	RetrievedAt     string `json:"retrievedAt"`
	Stale           bool   `json:"stale"`
	Data            any    `json:"data"`
}

func jsonContents(uri string, cache *statecache.Cache, snap *statecache.Snapshot, data any) ([]mcp.ResourceContents, error) {
	env := resourceEnvelope{
		SnapshotVersion: snap.Version,
		RetrievedAt:     snap.FetchedAt.UTC().Format(time.RFC3339),
		Stale:           cache.Stale(snap),
		Data:            data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{{
		URI:      uri,
		MimeType: jsonMimeType,
		Text:     string(b),
	}}, nil
}

func newCurrentStatusResource(cache *statecache.Cache) mcpservice.StaticResource {
	return mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         CurrentStatusURI,
			Name:        "Current war status",
			Description: "The full galactic war snapshot: planets, campaigns, and player totals.",
			MimeType:    jsonMimeType,
		},
		Provider: func(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
			snap := cache.Snapshot()
			if snap == nil {
				return nil, errNoSnapshot()
			}
			return jsonContents(uri, cache, snap, snap.Status)
		},
	}
}

func newPlanetsResource(cache *statecache.Cache) mcpservice.StaticResource {
	return mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         PlanetsURI,
			Name:        "Planet statuses",
			Description: "Liberation state for every planet in the current war.",
			MimeType:    jsonMimeType,
		},
		Provider: func(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
			snap := cache.Snapshot()
			if snap == nil {
				return nil, errNoSnapshot()
			}
			stale := cache.Stale(snap)
			reports := make([]PlanetReport, 0, len(snap.Status.Planets))
			for _, p := range snap.Status.Planets {
				reports = append(reports, planetReport(p, stale))
			}
			return jsonContents(uri, cache, snap, reports)
		},
	}
}

func newPlanetResourceTemplate(cache *statecache.Cache) mcpservice.StaticResourceTemplate {
	return mcpservice.StaticResourceTemplate{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: PlanetTemplate,
			Name:        "Planet status by index",
			Description: "Liberation state for a single planet, addressed by its upstream index.",
			MimeType:    jsonMimeType,
		},
		Provider: func(ctx context.Context, session *sessions.Session, uri string, vars uritemplate.Values) ([]mcp.ResourceContents, error) {
			snap := cache.Snapshot()
			if snap == nil {
				return nil, errNoSnapshot()
			}
			raw := vars.Get("index").String()
			idx, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s (index must be numeric)", mcpservice.ErrUnknownResource, uri)
			}
			p, ok := snap.Status.PlanetByIndex(idx)
			if !ok {
				return nil, fmt.Errorf("%w: %s", mcpservice.ErrUnknownResource, uri)
			}
			return jsonContents(uri, cache, snap, planetReport(p, cache.Stale(snap)))
		},
	}
}
