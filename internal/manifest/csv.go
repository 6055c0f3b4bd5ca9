package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MinFields is the number of columns a manifest row must carry
const MinFields = 5

// ParseOptions controls how malformed rows are handled
type ParseOptions struct {
	// Strict rejects the whole manifest when any row is malformed instead of
	// dropping the row.
	Strict bool
}

// RowError describes a dropped manifest row
type RowError struct {
	Line   int    `json:"line"`
	Fields int    `json:"fields"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s (%d fields)", e.Line, e.Reason, e.Fields)
}

// ParseError is returned in strict mode when rows were rejected
type ParseError struct {
	Rows []RowError
}

func (e *ParseError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, row := range e.Rows {
		parts = append(parts, row.String())
	}
	return fmt.Sprintf("manifest has %d malformed rows: %s", len(e.Rows), strings.Join(parts, "; "))
}

// ParseCSV reads a manifest with the columns identifier, display name,
// description, version and repository URL. The first row is a header and is
// skipped. Fields are trimmed. Rows with fewer than MinFields columns, an empty
// identifier or a repeated identifier are dropped and reported in the returned
// diagnostics; in strict mode they make the parse fail.
func ParseCSV(r io.Reader, opts ParseOptions) ([]PluginRecord, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		records []PluginRecord
		dropped []RowError
		seen    = make(map[string]bool)
		header  = true
	)

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				dropped = append(dropped, RowError{Line: pe.StartLine, Reason: pe.Err.Error()})
				header = false
				continue
			}
			return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
		}

		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		line, _ := reader.FieldPos(0)
		if header {
			header = false
			continue
		}

		if len(fields) < MinFields {
			dropped = append(dropped, RowError{Line: line, Fields: len(fields), Reason: "too few fields"})
			continue
		}

		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		rec := PluginRecord{
			ID:          fields[0],
			DisplayName: fields[1],
			Description: fields[2],
			Version:     fields[3],
			RepoURL:     fields[4],
		}
		if rec.ID == "" {
			dropped = append(dropped, RowError{Line: line, Fields: len(fields), Reason: "empty identifier"})
			continue
		}
		if seen[rec.ID] {
			dropped = append(dropped, RowError{Line: line, Fields: len(fields), Reason: "duplicate identifier " + rec.ID})
			continue
		}
		seen[rec.ID] = true
		records = append(records, rec)
	}

	if opts.Strict && len(dropped) > 0 {
		return nil, dropped, &ParseError{Rows: dropped}
	}
	return records, dropped, nil
}
