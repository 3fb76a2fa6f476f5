package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinelqa/metrics"
	"sentinelqa/recorder"
	"sentinelqa/target"
)

var serveFlags struct {
	addr   string
	resume []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recorder host storage API and metrics",
	Long: "Serves the key/value store, stored recordings and their live change streams,\n" +
		"so that a reopened recorder UI can resynchronize.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hostStore, closeStore, err := openHostStore()
		if err != nil {
			return err
		}
		defer closeStore()

		addr := cfg.Recorder.Addr
		if serveFlags.addr != "" {
			addr = serveFlags.addr
		}
		m := metrics.New()
		srv := recorder.NewServer(ctx, hostStore, &recorder.ServerOptions{Addr: addr, Metrics: m, Logger: log})
		resolver := target.NewResolver(cfg.ResolverOptions())
		for _, id := range serveFlags.resume {
			rec, err := recorder.Resume(ctx, hostStore, id, resolver, &recorder.Options{Debounce: cfg.Recorder.Debounce, Metrics: m, Logger: log})
			if err != nil {
				return err
			}
			defer rec.Close()
			srv.Register(rec)
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "serving on http://%s\n", srv.Addr)
		<-ctx.Done()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address; defaults to recorder.addr")
	serveCmd.Flags().StringSliceVar(&serveFlags.resume, "resume", nil, "recording ids to make controllable through the API")
}
