package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouseConfig configures the ClickHouse HTTP executor.
type ClickHouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// ClickHouse runs queries over the ClickHouse HTTP interface.
type ClickHouse struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

type jsonCompact struct {
	Meta []struct {
		Name string `json:"name"`
	} `json:"meta"`
	Data [][]json.RawMessage `json:"data"`
}

// NewClickHouse creates an executor bound to one database.
func NewClickHouse(cfg ClickHouseConfig) (*ClickHouse, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	params := url.Values{}
	params.Set("database", cfg.Database)
	params.Set("readonly", "1")
	endpoint := strings.TrimRight(cfg.URL, "/") + "/?" + params.Encode()

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
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Execute posts the query with FORMAT JSONCompact appended.
func (c *ClickHouse) Execute(ctx context.Context, query string) Result {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	if q == "" {
		return Failed(ErrorKindQuery, "empty query")
	}
	body := q + " FORMAT JSONCompact"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(body))
	if err != nil {
		return Failed(ErrorKindBackend, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Failed(ErrorKindBackend, "clickhouse request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// 4xx and ClickHouse's 500-with-exception both mean the SQL was rejected.
		if resp.StatusCode < 500 || len(msg) > 0 {
			return Failed(ErrorKindQuery, "%s", msg)
		}
		return Failed(ErrorKindBackend, "clickhouse status %s", resp.Status)
	}

	var decoded jsonCompact
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Failed(ErrorKindBackend, "decode clickhouse response: %v", err)
	}

	cols := make([]string, len(decoded.Meta))
	for i, m := range decoded.Meta {
		cols[i] = m.Name
	}
	rows := make([][]string, 0, len(decoded.Data))
	for _, raw := range decoded.Data {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = jsonCell(v)
		}
		rows = append(rows, row)
	}
	return Rows(cols, rows)
}

func jsonCell(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if string(v) == "null" {
		return "NULL"
	}
	return string(v)
}
