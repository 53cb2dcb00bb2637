package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblac/cask-bridge/internal/storage"
)

func sampleDeliveries() []storage.Delivery {
	return []storage.Delivery{
		{
			ID:             "d1",
			Event:          "SubscriptionRenewed",
			Provider:       "0x0000000000000000000000000000000000000AaA",
			SubscriptionID: "0x" + strings.Repeat("0", 63) + "1",
			Endpoint:       "https://a.example/hook",
			BlockNumber:    12,
			TxHash:         "0xabc",
			LogIndex:       3,
			Outcome:        "rejected",
			StatusCode:     500,
			Duration:       1500 * time.Millisecond,
			CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			ID:       "d2",
			Event:    "SubscriptionPaused",
			Outcome:  "transport_failed",
			Reason:   "send request: dial tcp: connection refused, retry later",
			Endpoint: "https://b.example/hook",
		},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, sampleDeliveries()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["durationMs"] != float64(1500) || records[0]["createdAt"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected record %v", records[0])
	}
	if _, ok := records[1]["statusCode"]; ok {
		t.Fatalf("statusCode should be omitted for transport failures")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, sampleDeliveries()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "id" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][5] != "12" || rows[1][9] != "500" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][10] != "send request: dial tcp: connection refused, retry later" {
		t.Fatalf("reason with comma not preserved: %q", rows[2][10])
	}
}

func TestInitWritesSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	rootCmd.SetArgs([]string{"init", "--config", path})
	rootCmd.SetOut(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(raw), "ws_url: ${WEBSOCKET_PROVIDER}") {
		t.Fatalf("unexpected sample config:\n%s", raw)
	}

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected init to refuse overwriting without --force")
	}
}
