package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagestash/pagestash/capture"
	"github.com/pagestash/pagestash/compose"
	"github.com/pagestash/pagestash/internal/appconfig"
	"github.com/pagestash/pagestash/internal/browser"
	"pkt.systems/pslog"
)

func newCaptureCmd() *cobra.Command {
	var cfgPath string
	var outPath string
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture a full-page screenshot of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeoutSec > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
				defer cancel()
			}

			b, err := browser.New(ctx, cfg.Browser.BrowserSettings())
			if err != nil {
				return err
			}
			defer b.Close()
			tab, err := b.OpenTab(ctx, args[0])
			if err != nil {
				return err
			}
			defer tab.Close()

			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}
			blob, err := orch.Capture(ctx, tab)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, blob.Data, 0o644); err != nil {
				return err
			}
			logger.Info("capture written", "path", outPath, "format", blob.Format, "bytes", len(blob.Data))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", outPath)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&outPath, "output", "o", "capture.png", "output image path")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "overall capture timeout in seconds (0 = none)")
	return cmd
}

// buildOrchestrator wires the orchestrator over the chromedp capabilities
// and the process-wide compositor.
func buildOrchestrator(cfg appconfig.Config, logger pslog.Logger) (*capture.Orchestrator, error) {
	policy := cfg.Capture.Policy()
	manager, err := compose.NewManager(
		compose.ProcessHost{New: func() (compose.Compositor, error) {
			return compose.NewRaster(
				compose.WithDecodeTimeout(policy.DecodeTimeout),
				compose.WithLogger(logger),
			), nil
		}},
		compose.WithProvisionTimeout(policy.ProvisionTimeout),
		compose.WithManagerLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	caps := browser.Capabilities{}
	return capture.NewOrchestrator(policy, capture.Deps{
		Probe:       caps,
		Scroller:    caps,
		Snapshotter: caps,
		Compositors: manager,
		Logger:      logger,
	})
}
