package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
	"github.com/galactic-tools/warwatch/statecache"
	"github.com/galactic-tools/warwatch/warstate"
)

type scriptedFetcher struct {
	mu     sync.Mutex
	status *warstate.WarStatus
	err    error
	calls  int
}

func (f *scriptedFetcher) FetchWarStatus(ctx context.Context) (*warstate.WarStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *scriptedFetcher) set(status *warstate.WarStatus, err error) {
	f.mu.Lock()
	f.status, f.err = status, err
	f.mu.Unlock()
}

func warFixture() *warstate.WarStatus {
	return &warstate.WarStatus{
		WarID:            801,
		Time:             5000,
		ImpactMultiplier: 1.1,
		Planets: []warstate.PlanetStatus{
			{Index: 0, Name: "Super Earth", Owner: warstate.OwnerHumans, Health: 1000000, MaxHealth: 1000000, Players: 10000},
			{Index: 64, Name: "Meridia", Owner: warstate.OwnerTerminids, Health: 400000, MaxHealth: 1000000, Players: 55000},
		},
		Campaigns: []warstate.Campaign{{ID: 7, PlanetIndex: 64}},
	}
}

// freshServer returns a server whose cache already holds one snapshot.
func freshServer(t *testing.T) (*scriptedFetcher, *statecache.Cache, *sessions.Session, callFn) {
	t.Helper()
	f := &scriptedFetcher{status: warFixture()}
	cache := statecache.New(f, statecache.WithStaleAfter(time.Minute))
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	srv, err := New(cache, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessions.New()
	call := func(name string, args string) (*mcp.CallToolResult, error) {
		req := &mcp.CallToolRequest{Name: name}
		if args != "" {
			req.Arguments = json.RawMessage(args)
		}
		return srv.Tools().Call(context.Background(), sess, req)
	}
	return f, cache, sess, call
}

type callFn func(name, args string) (*mcp.CallToolResult, error)

func TestGetWarStatus(t *testing.T) {
	_, _, _, call := freshServer(t)

	res, err := call("get_war_status", "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if res.StructuredContent["warId"] != float64(801) {
		t.Errorf("warId = %v", res.StructuredContent["warId"])
	}
	if res.StructuredContent["totalPlayers"] != float64(65000) {
		t.Errorf("totalPlayers = %v", res.StructuredContent["totalPlayers"])
	}
	if res.StructuredContent["stale"] != false {
		t.Errorf("stale = %v, fresh snapshot should not be stale", res.StructuredContent["stale"])
	}
	if res.Meta["snapshotVersion"] != uint64(1) {
		t.Errorf("meta snapshotVersion = %v", res.Meta["snapshotVersion"])
	}
}

func TestGetWarStatusNoSnapshot(t *testing.T) {
	f := &scriptedFetcher{err: errors.New("down")}
	cache := statecache.New(f)
	srv, err := New(cache, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = srv.Tools().Call(context.Background(), sessions.New(), &mcp.CallToolRequest{Name: "get_war_status"})
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.ErrorCodeUpstreamUnavailable {
		t.Fatalf("err = %v, want upstream-unavailable rpc error", err)
	}
}

func TestGetPlanetStatus(t *testing.T) {
	_, _, _, call := freshServer(t)

	res, err := call("get_planet_status", `{"planet":"meridia"}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if res.StructuredContent["index"] != float64(64) {
		t.Errorf("index = %v", res.StructuredContent["index"])
	}
	if res.StructuredContent["liberationPercent"] != float64(40) {
		t.Errorf("liberationPercent = %v", res.StructuredContent["liberationPercent"])
	}

	// Index form resolves the same planet.
	res, err = call("get_planet_status", `{"planet":"64"}`)
	if err != nil || res.StructuredContent["name"] != "Meridia" {
		t.Errorf("lookup by index: %+v, %v", res.StructuredContent, err)
	}
}

func TestGetPlanetStatusUnknownPlanet(t *testing.T) {
	_, _, _, call := freshServer(t)

	res, err := call("get_planet_status", `{"planet":"Cyberstan"}`)
	if err != nil {
		t.Fatalf("unknown planet is a tool-level miss, not an rpc error: %v", err)
	}
	if !res.IsError {
		t.Error("IsError should be set for an unknown planet")
	}
}

func TestGetPlanetStatusEmptyArgument(t *testing.T) {
	_, _, _, call := freshServer(t)

	_, err := call("get_planet_status", `{"planet":""}`)
	if err == nil {
		t.Fatal("empty planet should be rejected")
	}
}

func TestListActiveCampaigns(t *testing.T) {
	_, _, _, call := freshServer(t)

	res, err := call("list_active_campaigns", "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	campaigns, ok := res.StructuredContent["campaigns"].([]any)
	if !ok || len(campaigns) != 1 {
		t.Fatalf("campaigns = %+v", res.StructuredContent["campaigns"])
	}
	c := campaigns[0].(map[string]any)
	if c["planetName"] != "Meridia" || c["players"] != float64(55000) {
		t.Errorf("campaign = %+v", c)
	}
}

func TestRefreshWarStatus(t *testing.T) {
	f, _, _, call := freshServer(t)

	next := warFixture()
	next.Planets[1].Players = 70000
	f.set(next, nil)

	res, err := call("refresh_war_status", "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.StructuredContent["snapshotVersion"] != float64(2) {
		t.Errorf("snapshotVersion = %v, want 2 after forced refresh", res.StructuredContent["snapshotVersion"])
	}
	if res.StructuredContent["totalPlayers"] != float64(80000) {
		t.Errorf("totalPlayers = %v", res.StructuredContent["totalPlayers"])
	}
}

func TestRefreshWarStatusFallsBackToCached(t *testing.T) {
	f, _, _, call := freshServer(t)
	f.set(nil, errors.New("upstream down"))

	res, err := call("refresh_war_status", "")
	if err != nil {
		t.Fatalf("refresh with cached data should degrade, not fail: %v", err)
	}
	if res.StructuredContent["snapshotVersion"] != float64(1) {
		t.Errorf("snapshotVersion = %v, want the retained snapshot", res.StructuredContent["snapshotVersion"])
	}
}

func TestResourceReads(t *testing.T) {
	f := &scriptedFetcher{status: warFixture()}
	cache := statecache.New(f, statecache.WithStaleAfter(time.Minute))
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	srv, err := New(cache, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := sessions.New()
	ctx := context.Background()

	t.Run("current status", func(t *testing.T) {
		contents, err := srv.Resources().Read(ctx, sess, CurrentStatusURI)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env struct {
			SnapshotVersion uint64             `json:"snapshotVersion"`
			Stale           bool               `json:"stale"`
			Data            warstate.WarStatus `json:"data"`
		}
		if err := json.Unmarshal([]byte(contents[0].Text), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.WarID != 801 || env.Stale {
			t.Errorf("envelope = %+v", env)
		}
	})

	t.Run("planet by index", func(t *testing.T) {
		contents, err := srv.Resources().Read(ctx, sess, "war://planets/64")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env struct {
			Data PlanetReport `json:"data"`
		}
		if err := json.Unmarshal([]byte(contents[0].Text), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Name != "Meridia" {
			t.Errorf("planet = %+v", env.Data)
		}
	})

	t.Run("unknown planet index", func(t *testing.T) {
		if _, err := srv.Resources().Read(ctx, sess, "war://planets/404"); err == nil {
			t.Error("unknown index should fail")
		}
	})

	t.Run("non-numeric planet index", func(t *testing.T) {
		if _, err := srv.Resources().Read(ctx, sess, "war://planets/meridia"); err == nil {
			t.Error("non-numeric index should fail")
		}
	})

	t.Run("listings", func(t *testing.T) {
		if got := len(srv.Resources().List()); got != 2 {
			t.Errorf("resources = %d, want 2", got)
		}
		if got := len(srv.Resources().ListTemplates()); got != 1 {
			t.Errorf("templates = %d, want 1", got)
		}
		if got := len(srv.Tools().List()); got != 4 {
			t.Errorf("tools = %d, want 4", got)
		}
	})
}
