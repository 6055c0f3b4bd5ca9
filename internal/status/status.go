// Package status classifies manifest plugins against their installation state
// and filters and counts the result for listings.
package status

import (
	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
	"github.com/Open-WP-Club/plugin-hub/internal/version"
)

// Status is the primary display status of a plugin
type Status string

const (
	StatusNotInstalled    Status = "not_installed"
	StatusUpdateAvailable Status = "update_available"
	StatusActive          Status = "active"
	StatusDisabled        Status = "disabled"
	StatusInactive        Status = "inactive"
)

// Action is an operation offered for a plugin in its current status
type Action string

const (
	ActionInstall    Action = "install"
	ActionUpdate     Action = "update"
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionDisable    Action = "disable"
	ActionDelete     Action = "delete"
)

// View is a manifest record joined with its installation state
type View struct {
	Plugin          manifest.PluginRecord `json:"plugin"`
	State           inspector.State       `json:"state"`
	Status          Status                `json:"status"`
	UpdateAvailable bool                  `json:"update_available"`
	Beta            bool                  `json:"beta"`
	Actions         []Action              `json:"actions"`
}

// Classify resolves the status of a record. Precedence is not installed,
// update available, active, disabled, inactive.
func Classify(rec manifest.PluginRecord, st inspector.State) View {
	v := View{
		Plugin: rec,
		State:  st,
		Beta:   version.IsBeta(rec.Version),
	}
	v.UpdateAvailable = st.Installed && version.IsNewer(rec.Version, st.InstalledVersion)

	switch {
	case !st.Installed:
		v.Status = StatusNotInstalled
	case v.UpdateAvailable:
		v.Status = StatusUpdateAvailable
	case st.Active:
		v.Status = StatusActive
	case st.Disabled:
		v.Status = StatusDisabled
	default:
		v.Status = StatusInactive
	}

	v.Actions = actionsFor(v)
	return v
}

func actionsFor(v View) []Action {
	if !v.State.Installed {
		return []Action{ActionInstall}
	}

	var actions []Action
	if v.UpdateAvailable {
		actions = append(actions, ActionUpdate)
	}
	switch {
	case v.State.Active:
		actions = append(actions, ActionDeactivate, ActionDisable)
	case v.State.Disabled:
		actions = append(actions, ActionActivate)
	default:
		actions = append(actions, ActionActivate, ActionDelete, ActionDisable)
	}
	return actions
}
