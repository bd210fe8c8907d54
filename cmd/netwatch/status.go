package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/netwatch/internal/domain"
)

type statusFlags struct {
	api     string
	apiKey  string
	timeout time.Duration
}

func newStatusCmd() *cobra.Command {
	var f statusFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current status of every service from a running monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			views, err := fetchStatus(ctx, http.DefaultClient, f.api, f.apiKey)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().StringVar(&f.api, "api", envOr("API_BASE", "http://localhost:8080"), "status API base URL")
	cmd.Flags().StringVar(&f.apiKey, "api-key", envOr("NETWATCH_API_KEY", ""), "public or admin API key")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, c *http.Client, api, key string) ([]domain.StatusView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(api, "/")+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status: %s", resp.Status)
	}
	var body struct {
		Services []domain.StatusView `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return body.Services, nil
}

func printStatus(w io.Writer, views []domain.StatusView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tPROTO\tSTATUS\tLATENCY\tFAILS\tSINCE\tERROR")
	for _, v := range views {
		since := "-"
		if !v.LastChange.IsZero() {
			since = v.LastChange.UTC().Format(time.RFC3339)
		}
		errKind := string(v.LastError)
		if errKind == "" {
			errKind = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fms\t%d\t%s\t%s\n",
			v.ServiceID, v.Protocol, v.Status, v.LastLatencyMS, v.ConsecutiveFailures, since, errKind)
	}
	return tw.Flush()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
