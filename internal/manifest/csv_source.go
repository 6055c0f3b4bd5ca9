package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/metrics"
)

// DefaultCSVURL is the organization's published plugin list
const DefaultCSVURL = "https://raw.githubusercontent.com/Open-WP-Club/.github/main/plugins.csv"

// CSVSource downloads and parses the manifest CSV
type CSVSource struct {
	url        string
	opts       ParseOptions
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewCSVSource creates a source for the CSV at rawURL
func NewCSVSource(rawURL string, opts ParseOptions, logger *slog.Logger, m *metrics.Metrics) *CSVSource {
	if rawURL == "" {
		rawURL = DefaultCSVURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{
		url:        rawURL,
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "manifest-csv"),
		metrics:    m,
		now:        time.Now,
	}
}

// Name implements Source
func (s *CSVSource) Name() string { return "csv" }

// Fetch implements Source. A token query parameter defeats intermediate caches
// on raw.githubusercontent.com.
func (s *CSVSource) Fetch(ctx context.Context) ([]PluginRecord, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL %s: %w", s.url, err)
	}
	q := u.Query()
	q.Set("token", strconv.FormatInt(s.now().Unix(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "WordPress/Plugin-Hub")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch manifest: %s", resp.Status)
	}

	records, dropped, err := ParseCSV(resp.Body, s.opts)
	s.metrics.ObserveRows(len(records), len(dropped))
	for _, row := range dropped {
		s.logger.Warn("Dropped manifest row", "line", row.Line, "fields", row.Fields, "reason", row.Reason)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
