package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
)

// BulkActions maps bulk action names to executor actions
var BulkActions = map[string]string{
	"install":    ActionInstall,
	"update":     ActionUpdate,
	"activate":   ActionActivate,
	"deactivate": ActionDeactivate,
	"disable":    ActionDisable,
	"delete":     ActionDelete,
}

// BulkItem is one plugin in a bulk request
type BulkItem struct {
	Repo    string `json:"repo"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
}

// BulkItemResult is the outcome of one item
type BulkItemResult struct {
	Repo    string `json:"repo"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind,omitempty"`
}

// BulkReport aggregates a bulk run. Succeeded+Failed always equals Total.
type BulkReport struct {
	ID        string           `json:"id"`
	Action    string           `json:"action"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
	Message   string           `json:"message"`
}

// BulkProgress is published after each item
type BulkProgress struct {
	ID     string         `json:"id"`
	Action string         `json:"action"`
	Index  int            `json:"index"`
	Total  int            `json:"total"`
	Result BulkItemResult `json:"result"`
}

// BulkCheck validates one item before it runs. A non-nil error fails that
// item as invalid input.
type BulkCheck func(BulkItem) error

// ResolveBulkAction accepts either a short bulk name or a full action name
func ResolveBulkAction(name string) (string, bool) {
	if action, ok := BulkActions[name]; ok {
		return action, true
	}
	for _, action := range BulkActions {
		if action == name {
			return action, true
		}
	}
	return "", false
}

// RunBulk executes action for each item one at a time. Item failures do not
// stop the run; once ctx is done the remaining items fail without running.
// Items rejected by a check fail without running.
func (s *Service) RunBulk(ctx context.Context, p auth.Principal, name string, items []BulkItem, checks ...BulkCheck) (BulkReport, error) {
	action, ok := ResolveBulkAction(name)
	if !ok {
		return BulkReport{}, invalidInput("Invalid bulk action.")
	}
	if len(items) == 0 {
		return BulkReport{}, invalidInput("Please select at least one plugin.")
	}

	report := BulkReport{
		ID:      uuid.NewString(),
		Action:  action,
		Total:   len(items),
		Results: make([]BulkItemResult, 0, len(items)),
	}
	logger := s.logger.With("bulk", report.ID, "action", action)
	logger.Info("Bulk action started", "items", len(items), "actor", p.Name)

	for i, item := range items {
		var res Result
		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = transportFailure("Request cancelled before this plugin was processed.", ctxErr)
		} else if checkErr := runChecks(checks, item); checkErr != nil {
			err = &Error{Kind: KindInvalidInput, Message: checkErr.Error(), Err: checkErr}
		} else {
			res, err = s.Do(ctx, p, action, Params{Repo: item.Repo, Version: item.Version, URL: item.URL})
		}

		ir := BulkItemResult{Repo: item.Repo, Success: err == nil, Message: res.Message}
		if err != nil {
			ir.Message = err.Error()
			ir.Kind = KindOf(err)
			report.Failed++
		} else {
			report.Succeeded++
		}
		report.Results = append(report.Results, ir)
		s.metrics.ObserveBulkItem(action, ir.Success)

		progress := BulkProgress{ID: report.ID, Action: action, Index: i + 1, Total: report.Total, Result: ir}
		if pubErr := s.events.Publish(events.SubjectBulkProgress, progress); pubErr != nil {
			logger.Debug("Failed to publish bulk progress", "error", pubErr)
		}
	}

	report.Message = fmt.Sprintf("Bulk action completed. Success: %d, Failed: %d", report.Succeeded, report.Failed)
	if pubErr := s.events.Publish(events.SubjectBulkCompleted, report); pubErr != nil {
		logger.Debug("Failed to publish bulk report", "error", pubErr)
	}
	logger.Info("Bulk action completed", "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

func runChecks(checks []BulkCheck, item BulkItem) error {
	for _, check := range checks {
		if err := check(item); err != nil {
			return err
		}
	}
	return nil
}

// BulkTimeout bounds a whole bulk run started over HTTP
const BulkTimeout = 30 * time.Minute
