package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/cask-bridge/internal/config"
	"github.com/devblac/cask-bridge/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagLimit  int
	flagOutput string
)

func init() {
	exportCmd.Flags().StringVar(&flagFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().IntVar(&flagLimit, "limit", 0, "Export at most this many recent deliveries (0 = all)")
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write to file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export journaled webhook deliveries as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unsupported format %q (json|csv)", flagFormat)
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		deliveries, err := store.ListDeliveries(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if flagOutput != "" {
			f, err := os.Create(flagOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOutput, err)
			}
			defer f.Close()
			out = f
		}

		if format == "csv" {
			return writeCSV(out, deliveries)
		}
		return writeJSON(out, deliveries)
	},
}

type deliveryRecord struct {
	ID             string `json:"id"`
	Event          string `json:"event"`
	Provider       string `json:"provider"`
	SubscriptionID string `json:"subscriptionId"`
	Endpoint       string `json:"endpoint"`
	BlockNumber    uint64 `json:"blockNumber"`
	TxHash         string `json:"transactionHash"`
	LogIndex       uint   `json:"logIndex"`
	Outcome        string `json:"outcome"`
	StatusCode     int    `json:"statusCode,omitempty"`
	Reason         string `json:"reason,omitempty"`
	DurationMS     int64  `json:"durationMs"`
	CreatedAt      string `json:"createdAt"`
}

func toRecord(d storage.Delivery) deliveryRecord {
	return deliveryRecord{
		ID:             d.ID,
		Event:          d.Event,
		Provider:       d.Provider,
		SubscriptionID: d.SubscriptionID,
		Endpoint:       d.Endpoint,
		BlockNumber:    d.BlockNumber,
		TxHash:         d.TxHash,
		LogIndex:       d.LogIndex,
		Outcome:        d.Outcome,
		StatusCode:     d.StatusCode,
		Reason:         d.Reason,
		DurationMS:     d.Duration.Milliseconds(),
		CreatedAt:      d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w io.Writer, deliveries []storage.Delivery) error {
	records := make([]deliveryRecord, 0, len(deliveries))
	for _, d := range deliveries {
		records = append(records, toRecord(d))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeCSV(w io.Writer, deliveries []storage.Delivery) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "event", "provider", "subscription_id", "endpoint", "block_number", "tx_hash",
		"log_index", "outcome", "status_code", "reason", "duration_ms", "created_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, d := range deliveries {
		r := toRecord(d)
		row := []string{
			r.ID, r.Event, r.Provider, r.SubscriptionID, r.Endpoint,
			strconv.FormatUint(r.BlockNumber, 10), r.TxHash, strconv.FormatUint(uint64(r.LogIndex), 10),
			r.Outcome, strconv.Itoa(r.StatusCode), r.Reason, strconv.FormatInt(r.DurationMS, 10), r.CreatedAt,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
