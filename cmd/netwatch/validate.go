package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/netwatch/internal/config"
	"github.com/hamed0406/netwatch/internal/monitor"
)

func newValidateCmd() *cobra.Command {
	var services string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the services file and environment without probing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if services != "" {
				cfg.ServicesFile = services
			}
			return validate(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&services, "services", "", "services file (YAML or JSON); defaults to $SERVICES_FILE")
	return cmd
}

func validate(cfg config.Config, stdout, stderr io.Writer) error {
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return configError(fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.SummarySchedule != "off" {
		if _, err := monitor.ParseSchedule(cfg.SummarySchedule); err != nil {
			return configError(fmt.Errorf("SUMMARY_SCHEDULE: %w", err))
		}
	}
	reg, err := loadRegistry(cfg.ServicesFile, 0)
	if err != nil {
		return err
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (POST /api/services/{id}/probe will 401).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty (read routes will 401).")
	}
	for _, k := range append(append([]string{}, cfg.AdminAPIKeys...), cfg.PublicAPIKeys...) {
		if strings.ContainsAny(k, " \t") {
			warn("API keys contain spaces; use comma-separated with no spaces, e.g. key1,key2")
			break
		}
	}
	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; history goes to " + cfg.SQLitePath + ".")
	}
	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	}
	if cfg.MaxConcurrentProbes < reg.Len() {
		warn(fmt.Sprintf("MAX_CONCURRENT_PROBES=%d is below the %d configured services; probes will queue.", cfg.MaxConcurrentProbes, reg.Len()))
	}

	for _, d := range reg.Services() {
		fmt.Fprintf(stdout, "✔ %-20s %-4s %s every %s\n", d.ID, d.Protocol, d.Target, d.Interval)
	}
	fmt.Fprintf(stdout, "%d services OK\n", reg.Len())
	return nil
}
