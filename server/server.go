// Package server assembles the warwatch MCP server definition: the tool and
// resource registries over the war-state cache. Registry construction errors
// (duplicate names, bad templates) are returned to the caller, which treats
// them as fatal before any connection is accepted.
package server

import (
	"log/slog"

	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/mcpservice"
	"github.com/galactic-tools/warwatch/statecache"
)

// Resource URIs served by this server.
const (
	CurrentStatusURI = "war://status/current"
	PlanetsURI       = "war://status/planets"
	PlanetTemplate   = "war://planets/{index}"
)

// Version is the server implementation version reported during initialize.
const Version = "0.4.0"

// New builds the MCP server definition backed by the given cache.
func New(cache *statecache.Cache, log *slog.Logger) (*mcpservice.Server, error) {
	if log == nil {
		log = slog.Default()
	}

	tools, err := mcpservice.NewToolsRegistry(
		newGetWarStatusTool(cache),
		newGetPlanetStatusTool(cache),
		newListActiveCampaignsTool(cache),
		newRefreshWarStatusTool(cache, log),
	)
	if err != nil {
		return nil, err
	}

	resources, err := mcpservice.NewResourcesRegistry(
		[]mcpservice.StaticResource{
			newCurrentStatusResource(cache),
			newPlanetsResource(cache),
		},
		[]mcpservice.StaticResourceTemplate{
			newPlanetResourceTemplate(cache),
		},
	)
	if err != nil {
		return nil, err
	}

	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{
			Name:    "warwatch",
			Version: Version,
			Title:   "Galactic War Status",
		}),
		mcpservice.WithInstructions(
			"Query the state of the galactic war. Results are served from a local cache "+
				"refreshed in the background; check the stale flag before trusting old data."),
		mcpservice.WithToolsRegistry(tools),
		mcpservice.WithResourcesRegistry(resources),
	), nil
}
