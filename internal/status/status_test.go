package status

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
)

func rec(id, v string) manifest.PluginRecord {
	return manifest.PluginRecord{ID: id, Version: v}
}

func installed(id, v string, active, disabled bool) inspector.State {
	return inspector.State{ID: id, File: id + "/" + id + ".php", Installed: true, Active: active, Disabled: disabled, InstalledVersion: v}
}

func missing(id string) inspector.State {
	return inspector.State{ID: id, InstalledVersion: inspector.NotInstalled}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		record      manifest.PluginRecord
		state       inspector.State
		wantStatus  Status
		wantUpdate  bool
		wantBeta    bool
		wantActions []Action
	}{
		{"not installed", rec("a", "1.2.0"), missing("a"), StatusNotInstalled, false, false, []Action{ActionInstall}},
		{"update on active", rec("a", "1.2.0"), installed("a", "1.0.0", true, false), StatusUpdateAvailable, true, false, []Action{ActionUpdate, ActionDeactivate, ActionDisable}},
		{"update on inactive", rec("a", "1.2.0"), installed("a", "1.0.0", false, false), StatusUpdateAvailable, true, false, []Action{ActionUpdate, ActionActivate, ActionDelete, ActionDisable}},
		{"active current", rec("a", "1.2.0"), installed("a", "1.2.0", true, false), StatusActive, false, false, []Action{ActionDeactivate, ActionDisable}},
		{"installed newer than manifest", rec("a", "1.2.0"), installed("a", "1.3.0", true, false), StatusActive, false, false, []Action{ActionDeactivate, ActionDisable}},
		{"disabled", rec("a", "1.2.0"), installed("a", "1.2.0", false, true), StatusDisabled, false, false, []Action{ActionActivate}},
		{"inactive", rec("a", "1.2.0"), installed("a", "1.2.0", false, false), StatusInactive, false, false, []Action{ActionActivate, ActionDelete, ActionDisable}},
		{"beta not installed", rec("b", "0.5.0"), missing("b"), StatusNotInstalled, false, true, []Action{ActionInstall}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.record, tt.state)
			if v.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, v.Status)
			}
			if v.UpdateAvailable != tt.wantUpdate {
				t.Errorf("Expected update %v, got %v", tt.wantUpdate, v.UpdateAvailable)
			}
			if v.Beta != tt.wantBeta {
				t.Errorf("Expected beta %v, got %v", tt.wantBeta, v.Beta)
			}
			if diff := cmp.Diff(tt.wantActions, v.Actions); diff != "" {
				t.Errorf("Actions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := map[string]Filter{
		"":         FilterAll,
		"all":      FilterAll,
		"active":   FilterActive,
		"inactive": FilterInactive,
		"update":   FilterUpdate,
		"beta":     FilterBeta,
		"disabled": FilterDisabled,
		"bogus":    FilterAll,
	}
	for in, want := range tests {
		if got := ParseFilter(in); got != want {
			t.Errorf("ParseFilter(%q) = %s, want %s", in, got, want)
		}
	}
}

func sampleViews() []View {
	return []View{
		Classify(rec("active", "1.0.0"), installed("active", "1.0.0", true, false)),
		Classify(rec("stale", "2.0.0"), installed("stale", "1.0.0", false, false)),
		Classify(rec("disabled", "1.0.0"), installed("disabled", "1.0.0", false, true)),
		Classify(rec("idle", "1.0.0"), installed("idle", "1.0.0", false, false)),
		Classify(rec("new", "1.0.0"), missing("new")),
		Classify(rec("beta", "0.5.0"), missing("beta")),
	}
}

func TestCount(t *testing.T) {
	views := sampleViews()

	want := Counts{
		FilterAll:      5,
		FilterActive:   1,
		FilterInactive: 2,
		FilterUpdate:   1,
		FilterBeta:     0,
		FilterDisabled: 1,
	}
	if diff := cmp.Diff(want, Count(views, false)); diff != "" {
		t.Errorf("Counts without beta mismatch (-want +got):\n%s", diff)
	}

	want[FilterAll] = 6
	want[FilterBeta] = 1
	if diff := cmp.Diff(want, Count(views, true)); diff != "" {
		t.Errorf("Counts with beta mismatch (-want +got):\n%s", diff)
	}
}

func TestListingAndCountsAgree(t *testing.T) {
	views := sampleViews()
	for _, showBeta := range []bool{false, true} {
		counts := Count(views, showBeta)
		for _, f := range Filters {
			listing := BuildListing(views, f, showBeta)
			if len(listing.Plugins) != counts[f] {
				t.Errorf("filter %s showBeta=%v: listing has %d, count is %d", f, showBeta, len(listing.Plugins), counts[f])
			}
		}
	}
}

func TestBetaHiddenEverywhere(t *testing.T) {
	views := []View{Classify(rec("b", "0.5.0"), missing("b"))}

	for _, f := range Filters {
		if got := Select(views, f, false); len(got) != 0 {
			t.Errorf("filter %s: beta plugin should be hidden", f)
		}
	}
	if got := Select(views, FilterBeta, true); len(got) != 1 {
		t.Error("Beta plugin should be listed under beta when enabled")
	}
}

func TestSelectPreservesOrder(t *testing.T) {
	listing := BuildListing(sampleViews(), FilterAll, true)
	var ids []string
	for _, v := range listing.Plugins {
		ids = append(ids, v.Plugin.ID)
	}
	want := []string{"active", "stale", "disabled", "idle", "new", "beta"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	if listing.Filter != FilterAll || !listing.ShowBeta {
		t.Errorf("Unexpected listing metadata: %+v", listing)
	}
}
