package main

import (
	"fmt"
	"os"
	"time"

	"floodwatch/internal/model"
	"floodwatch/internal/service/zone"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if !a.Connectivity.Probe(ctx) {
		warnColor.Println("Backend unreachable, nothing was sent")
		return nil
	}

	result, err := a.Sync.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Mutations: %d total, %s, %s\n",
		result.Mutations.Total,
		okColor.Sprintf("%d succeeded", result.Mutations.Succeeded),
		failedText(result.Mutations.Failed))
	for name, s := range result.Records {
		fmt.Printf("%s: %d total, %s, %s\n", name, s.Total, okColor.Sprintf("%d succeeded", s.Succeeded), failedText(s.Failed))
	}
	if result.Status.Error != "" {
		errColor.Println(result.Status.Error)
	}
	return nil
}

func failedText(n int) string {
	if n == 0 {
		return dimColor.Sprint("0 failed")
	}
	return errColor.Sprintf("%d failed", n)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if a.Connectivity.Probe(ctx) {
		okColor.Printf("online  %s\n", a.Config.Backend.URL)
	} else {
		warnColor.Printf("offline %s\n", a.Config.Backend.URL)
	}

	for _, status := range []model.MutationStatus{model.MutationPending, model.MutationSyncing, model.MutationFailed, model.MutationCompleted} {
		list, err := a.Queue.List(ctx, status)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%-10s %d", status, len(list))
		switch {
		case status == model.MutationFailed && len(list) > 0:
			errColor.Println(line)
			for _, m := range list {
				retried := ""
				if m.RetriedAs != "" {
					retried = dimColor.Sprintf(" (retried as %s)", m.RetriedAs)
				}
				fmt.Printf("  %s %s %s%s\n  %s\n", m.ID, m.Method, m.Target, retried, dimColor.Sprint(m.LastError))
			}
		case status == model.MutationPending && len(list) > 0:
			warnColor.Println(line)
		default:
			fmt.Println(line)
		}
	}

	unsynced, err := a.Reports.List(ctx, true)
	if err != nil {
		return err
	}
	fmt.Printf("%-10s %d\n", "reports", len(unsynced))
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	retry, err := a.Queue.Retry(ctx, args[0])
	if err != nil {
		return err
	}
	okColor.Printf("Re-enqueued %s as %s\n", args[0], retry.ID)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	started := time.Now()
	zones, err := zone.ImportOSM(f, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	imported, err := a.Zones.Import(ctx, zones)
	if err != nil {
		return err
	}
	okColor.Printf("Imported %d flood zones", imported)
	dimColor.Printf(" (%d found, %s)\n", len(zones), time.Since(started).Round(time.Millisecond))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	zones, err := a.Zones.CachedZones(ctx)
	if err != nil {
		return err
	}
	out, err := zone.FeatureCollection(zones).MarshalJSON()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(out, '\n'))
	return err
}
