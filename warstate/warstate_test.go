package warstate

import "testing"

func testStatus() *WarStatus {
	return &WarStatus{
		WarID: 801,
		Time:  100,
		Planets: []PlanetStatus{
			{Index: 0, Name: "Super Earth", Owner: OwnerHumans, Health: 1000000, MaxHealth: 1000000, Players: 12000},
			{Index: 64, Name: "Meridia", Owner: OwnerTerminids, Health: 250000, MaxHealth: 1000000, Players: 43000},
			{Index: 125, Name: "Malevelon Creek", Owner: OwnerAutomatons, Health: 0, MaxHealth: 1000000, Players: 88000},
		},
		Campaigns: []Campaign{
			{ID: 1, PlanetIndex: 64},
			{ID: 2, PlanetIndex: 125},
			{ID: 3, PlanetIndex: 999},
		},
	}
}

func TestLookupPlanet(t *testing.T) {
	st := testStatus()

	if p, ok := st.LookupPlanet("64"); !ok || p.Name != "Meridia" {
		t.Errorf("lookup by index = %+v, %v", p, ok)
	}
	if p, ok := st.LookupPlanet("meridia"); !ok || p.Index != 64 {
		t.Errorf("case-insensitive lookup = %+v, %v", p, ok)
	}
	if p, ok := st.LookupPlanet("  Malevelon Creek "); !ok || p.Index != 125 {
		t.Errorf("trimmed name lookup = %+v, %v", p, ok)
	}
	if _, ok := st.LookupPlanet("Cyberstan"); ok {
		t.Error("unknown planet should not resolve")
	}
	if _, ok := st.LookupPlanet("404"); ok {
		t.Error("unknown index should not resolve")
	}
}

func TestLiberationPercent(t *testing.T) {
	if got := (PlanetStatus{Health: 250000, MaxHealth: 1000000}).LiberationPercent(); got != 25 {
		t.Errorf("LiberationPercent = %v, want 25", got)
	}
	if got := (PlanetStatus{Health: 5, MaxHealth: 0}).LiberationPercent(); got != 0 {
		t.Errorf("zero max health should report 0, got %v", got)
	}
}

func TestTotalPlayers(t *testing.T) {
	if got := testStatus().TotalPlayers(); got != 143000 {
		t.Errorf("TotalPlayers = %d, want 143000", got)
	}
}

func TestActiveCampaignPlanets(t *testing.T) {
	got := testStatus().ActiveCampaignPlanets()
	if len(got) != 2 {
		t.Fatalf("ActiveCampaignPlanets len = %d, want 2 (dangling index skipped)", len(got))
	}
	if got[0].Index != 64 || got[1].Index != 125 {
		t.Errorf("campaign order not preserved: %+v", got)
	}
}
