package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagestash/pagestash/internal/appconfig"
	"github.com/pagestash/pagestash/internal/browser"
	"github.com/pagestash/pagestash/stash"
	"pkt.systems/pslog"
)

func newSaveCmd() *cobra.Command {
	var cfgPath string
	var outPath string
	var tags []string
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "save <url>",
		Short: "Save a page with its full-page screenshot as an OCR-ready payload",
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

			caps := browser.Capabilities{}
			title, err := caps.Title(ctx, tab)
			if err != nil {
				return err
			}
			content, err := caps.Text(ctx, tab)
			if err != nil {
				return err
			}

			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}
			svc := stash.NewService(stash.Deps{Capturer: orch, Logger: logger})
			if len(tags) == 0 {
				tags = cfg.Stash.DefaultTags
			}
			page, err := svc.SavePage(ctx, stash.SavePageRequest{
				URL:     args[0],
				Title:   title,
				Content: content,
				Tags:    tags,
				Surface: tab,
			})
			if err != nil {
				return err
			}
			payload, err := page.OCRPayload()
			if err != nil {
				return err
			}

			if outPath == "-" {
				_, err = cmd.OutOrStdout().Write(append(payload, '\n'))
				return err
			}
			if err := os.WriteFile(outPath, payload, 0o644); err != nil {
				return err
			}
			if page.ImageError != "" {
				logger.Warn("page saved without image", "reason", page.ImageError)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", outPath)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&outPath, "output", "o", "page.json", "output payload path, - for stdout")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags to attach to the saved page")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "overall save timeout in seconds (0 = none)")
	return cmd
}
