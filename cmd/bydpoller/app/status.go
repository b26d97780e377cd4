package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

const statusTimeout = 10 * time.Second

func newStatusCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show the polling state of every vehicle",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()
			vehicles, err := fetchStatus(ctx, server)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusTable(vehicles))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8480", "Base URL of a running bydpoller HTTP server.")
	return cmd
}

func fetchStatus(ctx context.Context, server string) ([]poller.VehicleStatus, error) {
	url := strings.TrimSuffix(server, "/") + "/api/v1/vehicles"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status from %s: %s", url, resp.Status)
	}
	var vehicles []poller.VehicleStatus
	if err := json.NewDecoder(resp.Body).Decode(&vehicles); err != nil {
		return nil, fmt.Errorf("failed to decode vehicle status: %w", err)
	}
	return vehicles, nil
}

func statusTable(vehicles []poller.VehicleStatus) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("VIN", "POLLING", "MOVING", "UPDATED", "GPS UPDATED", "TELEMETRY", "GPS", "GPS INTERVAL")
	for _, v := range vehicles {
		table.AddRow(
			log.VIN(v.VIN),
			onOff(v.PollingEnabled),
			v.Moving,
			formatTime(v.CanonicalUpdatedAt),
			formatTime(v.GPSUpdatedAt),
			streamSummary(v.Telemetry),
			streamSummary(v.GPS),
			v.GPS.Interval,
		)
	}
	return table
}

func streamSummary(s poller.StreamStatus) string {
	if s.LastOutcome == poller.OutcomeNone {
		return s.State
	}
	return s.State + "/" + string(s.LastOutcome)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
