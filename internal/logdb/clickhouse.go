package logdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"threatbench/pkg/models"
)

// ClickHouseConfig configures the ClickHouse HTTP loader.
type ClickHouseConfig struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// ClickHouse loads events over HTTP with JSONEachRow.
type ClickHouse struct {
	base    string
	table   string
	headers map[string]string
	client  *http.Client
}

// NewClickHouse creates a ClickHouse loader.
func NewClickHouse(cfg ClickHouseConfig) (*ClickHouse, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = Table
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &ClickHouse{
		base:    strings.TrimRight(cfg.URL, "/"),
		table:   quoteIdent(cfg.Database) + "." + quoteIdent(cfg.Table),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// EnsureTable creates the events table if it does not exist.
func (c *ClickHouse) EnsureTable() error {
	ddl := "CREATE TABLE IF NOT EXISTS " + c.table + ` (
	event_time DateTime64(3),
	event_id UInt32,
	host String,
	record_id String,
	process_guid String,
	image String,
	command_line String,
	parent_image String,
	user_name String,
	target_filename String,
	destination_ip String,
	destination_port String,
	query_name String,
	target_object String,
	fields String
) ENGINE = MergeTree ORDER BY (host, event_time)`
	return c.post("", strings.NewReader(ddl))
}

// WriteEvents sends a batch of events.
func (c *ClickHouse) WriteEvents(events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if err := enc.Encode(FromEvent(ev)); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}
	return c.post(fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", c.table), &body)
}

// Close releases resources.
func (c *ClickHouse) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// post sends body to ClickHouse. A non-empty query goes in the URL and body
// carries the data; otherwise body is the statement.
func (c *ClickHouse) post(query string, body io.Reader) error {
	endpoint := c.base + "/"
	if query != "" {
		endpoint += "?query=" + url.QueryEscape(query)
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func quoteIdent(v string) string {
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
