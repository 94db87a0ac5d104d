package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"transmute/internal/app"
	"transmute/internal/convert"
)

type checkResult struct {
	name   string
	ok     bool
	warn   bool
	detail string
}

var doctorCmd = &cobra.Command{
	Use:         "doctor",
	Short:       "Check converter tools, storage, Redis and the history store",
	Annotations: needsApp(),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}
		defer closeApp(appInstance)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		failed := 0
		for _, r := range runChecks(ctx, appInstance) {
			var status string
			switch {
			case !r.ok:
				status = color.RedString("FAIL")
				failed++
			case r.warn:
				status = color.YellowString("WARN")
			default:
				status = color.GreenString(" OK ")
			}
			fmt.Printf("[%s] %-10s %s\n", status, r.name, r.detail)
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func runChecks(ctx context.Context, a *app.App) []checkResult {
	var results []checkResult

	for _, tool := range []convert.Tool{convert.ToolFFmpeg, convert.ToolMagick, convert.ToolSoffice} {
		bin := a.Converter.Binary(tool)
		path, err := exec.LookPath(bin)
		if err != nil {
			results = append(results, checkResult{name: string(tool), detail: fmt.Sprintf("%s not found on PATH", bin)})
			continue
		}
		results = append(results, checkResult{name: string(tool), ok: true, detail: path})
	}

	usage, err := a.Storage.DiskUsage(ctx)
	if err != nil {
		results = append(results, checkResult{name: "storage", detail: err.Error()})
	} else {
		results = append(results, checkResult{
			name:   "storage",
			ok:     true,
			warn:   usage.Total > 0 && usage.Available < usage.Total/10,
			detail: fmt.Sprintf("%s (%d MiB free of %d MiB)", a.Storage.Root(), usage.Available>>20, usage.Total>>20),
		})
	}

	switch {
	case a.Config.Redis.Address == "":
		results = append(results, checkResult{name: "redis", ok: true, warn: true, detail: "not configured, using in-memory progress and timers"})
	case a.Redis == nil:
		results = append(results, checkResult{name: "redis", detail: fmt.Sprintf("%s unreachable", a.Config.Redis.Address)})
	default:
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			results = append(results, checkResult{name: "redis", detail: err.Error()})
		} else {
			results = append(results, checkResult{name: "redis", ok: true, detail: a.Config.Redis.Address})
		}
	}

	switch {
	case a.Config.History.DSN == "":
		results = append(results, checkResult{name: "history", ok: true, warn: true, detail: "disabled"})
	case a.HistoryStore == nil:
		results = append(results, checkResult{name: "history", detail: "store could not be opened"})
	default:
		if err := a.HistoryStore.Ping(ctx); err != nil {
			results = append(results, checkResult{name: "history", detail: err.Error()})
		} else {
			results = append(results, checkResult{name: "history", ok: true, detail: "reachable"})
		}
	}
	return results
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
