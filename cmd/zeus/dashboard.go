package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"zeusgateway/internal/dashboard"
)

var dashboardURL string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run a live fleet-status TUI against a running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := dashboardURL
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("dashboard: --url must be a ws:// or wss:// address, got %q", url)
		}
		return dashboard.Run(url)
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardURL, "url", "ws://127.0.0.1:3001/stream", "gateway control-stream URL")
}
