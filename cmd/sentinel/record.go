package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sentinelqa/browser"
	"sentinelqa/metrics"
	"sentinelqa/recorder"
	"sentinelqa/target"
	iox "sentinelqa/utils/io"
	"sentinelqa/utils/printx"
)

var recordFlags struct {
	id     string
	resume bool
	out    string
	serve  bool
}

var recordCmd = &cobra.Command{
	Use:   "record <url>",
	Short: "Record interactions in a visible browser until interrupted",
	Long: "Opens the page in a headful browser and records clicks, typing, selections,\n" +
		"submissions and navigations. Press Ctrl-C to stop; the synthesized instruction\n" +
		"is printed and the recording is kept in the host store.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hostStore, closeStore, err := openHostStore()
		if err != nil {
			return err
		}
		defer closeStore()

		id := recordFlags.id
		if id == "" {
			id = "rec_" + strings.ToLower(ulid.Make().String())
		}
		m := metrics.New()
		options := &recorder.Options{Debounce: cfg.Recorder.Debounce, Metrics: m, Logger: log}
		resolver := target.NewResolver(cfg.ResolverOptions())
		var rec *recorder.Recorder
		if recordFlags.resume {
			if rec, err = recorder.Resume(ctx, hostStore, id, resolver, options); err != nil {
				return err
			}
		} else {
			rec = recorder.New(id, resolver, hostStore, options)
		}
		defer rec.Close()

		if recordFlags.serve {
			srv := recorder.NewServer(ctx, hostStore, &recorder.ServerOptions{Addr: cfg.Recorder.Addr, Metrics: m, Logger: log})
			srv.Register(rec)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "recorder UI api on http://%s/recordings/%s\n", srv.Addr, id)
		}

		browserOptions := cfg.BrowserOptions(log)
		browserOptions.Headful = true
		b := browser.NewBrowser(context.WithoutCancel(ctx), browserOptions)
		defer b.Close()
		live := rec.Subscribe()
		detach, err := recorder.Attach(ctx, b, rec)
		if err != nil {
			return err
		}
		defer detach()
		if err := rec.Start(ctx); err != nil {
			return err
		}
		if err := b.Navigate(ctx, args[0]); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "recording %s, press Ctrl-C to stop\n", id)
	Loop:
		for {
			select {
			case <-ctx.Done():
				break Loop
			case action, ok := <-live:
				if !ok {
					break Loop
				}
				fmt.Fprintln(out, "  "+action.GetText())
			}
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rec.Stop(stopCtx); err != nil {
			log.Warn("failed to persist stopped recording", zap.Error(err))
		}
		printx.PrintStandardHeader(out, "INSTRUCTION")
		fmt.Fprintln(out, rec.Instruction())
		if recordFlags.out != "" {
			saved, err := hostStore.LoadRecording(id)
			if err != nil {
				return err
			}
			if err := iox.WriteJSONFile(recordFlags.out, saved); err != nil {
				return fmt.Errorf("failed to write recording: %w", err)
			}
			fmt.Fprintf(out, "wrote %d actions to %s\n", len(saved.Actions), recordFlags.out)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordFlags.id, "id", "", "recording id; generated when empty")
	recordCmd.Flags().BoolVar(&recordFlags.resume, "resume", false, "continue the stored recording with this id")
	recordCmd.Flags().StringVarP(&recordFlags.out, "out", "o", "", "also write the recording as JSON to this file")
	recordCmd.Flags().BoolVar(&recordFlags.serve, "serve", true, "serve the recorder API while recording")
	recordCmd.MarkFlagsRequiredTogether("resume", "id")
}

// openHostStore opens the recorder's bbolt store, publishing changes over
// NATS when a server is configured.
func openHostStore() (*recorder.HostStore, func(), error) {
	var notifier recorder.Notifier
	if cfg.Recorder.NATSURL != "" {
		n, err := recorder.NewNATSNotifier(cfg.Recorder.NATSURL, cfg.Recorder.NATSSubject)
		if err != nil {
			return nil, nil, err
		}
		notifier = n
	} else {
		notifier = recorder.NewMemoryNotifier()
	}
	hostStore, err := recorder.OpenHostStore(cfg.Recorder.DBPath, notifier)
	if err != nil {
		notifier.Close()
		return nil, nil, err
	}
	return hostStore, func() {
		if err := hostStore.Close(); err != nil {
			log.Warn("failed to close host store", zap.Error(err))
		}
		notifier.Close()
	}, nil
}
