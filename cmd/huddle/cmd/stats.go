package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/huddle-rtc/huddle/internal/room"
	"github.com/huddle-rtc/huddle/internal/ui"
)

var flagStatsURL string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live server statistics",
	Long: `Fetch room and media-engine statistics from a running signaling server.

Examples:
  huddle stats
  huddle stats --url http://calls.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStats()
	},
}

func showStats() error {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(flagStatsURL + "/metrics")
	if err != nil {
		return fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned %s", resp.Status)
	}

	var payload struct {
		room.Stats
		Engine map[string]int `json:"engine"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode metrics: %w", err)
	}

	ui.RenderServerStats("📊 Server Statistics", payload.Stats, payload.Engine)
	return nil
}

func init() {
	statsCmd.Flags().StringVar(&flagStatsURL, "url", "http://localhost:8080", "server base URL")

	rootCmd.AddCommand(statsCmd)
}
