// Package feed reads detections from the camera's HTTP feed.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/domain/checkpoint"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mock_feed checkpoint-service/internal/feed Source

// Source returns the detections currently held by a camera feed.
type Source interface {
	Fetch(ctx context.Context, url string) ([]checkpoint.FeedItem, error)
}

// maxBody bounds what is read from the camera.
const maxBody = 8 << 20

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "feed").Logger(),
	}
}

// Fetch performs one GET against the feed. Transport failures and non-2xx
// responses are errors; an empty or unparseable body is an empty batch.
func (c *Client) Fetch(ctx context.Context, url string) ([]checkpoint.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	items, err := Decode(body)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Int("bytes", len(body)).Msg("malformed feed body, treating as empty")
		return []checkpoint.FeedItem{}, nil
	}
	return items, nil
}

// Decode accepts a bare array or an object wrapping the array in "data".
// Entries that are not objects are dropped.
func Decode(body []byte) ([]checkpoint.FeedItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []checkpoint.FeedItem{}, nil
	}

	var raw []map[string]interface{}
	switch body[0] {
	case '[':
		var list []interface{}
		if err := unmarshal(body, &list); err != nil {
			return nil, err
		}
		raw = objects(list)
	case '{':
		var envelope struct {
			Data []interface{} `json:"data"`
		}
		if err := unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		raw = objects(envelope.Data)
	default:
		return nil, fmt.Errorf("unexpected feed body starting with %q", body[0])
	}

	items := make([]checkpoint.FeedItem, 0, len(raw))
	for _, m := range raw {
		items = append(items, parseItem(m))
	}
	return items, nil
}

func unmarshal(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func objects(list []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseItem(m map[string]interface{}) checkpoint.FeedItem {
	item := checkpoint.FeedItem{
		ExternalID: stringField(m, "id"),
		Plate:      strings.TrimSpace(firstString(m, "numberplate", "plate", "number")),
		Direction:  strings.ToLower(stringField(m, "direction")),
		Vehicle: checkpoint.VehicleInfo{
			Make:  firstString(m, "make", "vehicle_make"),
			Model: firstString(m, "model", "vehicle_model"),
			Color: firstString(m, "color", "vehicle_color"),
		},
		RawPayload: m,
	}
	if ts, ok := parseTime(m["timestamp"]); ok {
		item.CapturedAt = ts
	}
	if conf, ok := number(m["confidence"]); ok {
		item.Confidence = &conf
	}
	return item
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseTime understands RFC 3339, naive "YYYY-MM-DD hh:mm:ss" (taken as UTC)
// and unix seconds or milliseconds.
func parseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unix(n), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return unix(n), true
		}
		if f, err := t.Float64(); err == nil {
			sec := int64(f)
			return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
		}
	}
	return time.Time{}, false
}

func unix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// DecodeItem parses a single pushed detection object.
func DecodeItem(body []byte) (checkpoint.FeedItem, error) {
	var m map[string]interface{}
	if err := unmarshal(bytes.TrimSpace(body), &m); err != nil {
		return checkpoint.FeedItem{}, err
	}
	if m == nil {
		return checkpoint.FeedItem{}, fmt.Errorf("detection body is empty")
	}
	return parseItem(m), nil
}

// IntField reads an integer attribute of a decoded payload, or zero.
func IntField(m map[string]interface{}, key string) int64 {
	n, ok := number(m[key])
	if !ok {
		return 0
	}
	return int64(n)
}
