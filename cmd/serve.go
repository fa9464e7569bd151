package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/server"
	"github.com/KaramelBytes/csvlens/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI for uploading and exploring CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		mapper, summarizer, err := buildInsight(c)
		if err != nil {
			return err
		}
		ttl := session.DefaultTTL
		if c.SessionTTLMin > 0 {
			ttl = time.Duration(c.SessionTTLMin) * time.Minute
		}
		opt := analysis.DefaultOptions()
		opt.MaxRows = c.MaxRows
		srv, err := server.New(server.Config{
			MaxUploadBytes: int64(c.MaxUploadMB) << 20,
			CORSOrigins:    c.CORSOrigins,
			APIKey:         c.APIKey,
			TopN:           c.TopN,
			Bins:           c.HistogramBins,
			LoadOptions:    opt,
			Debug:          debug,
		}, session.NewStore(ttl), mapper, summarizer)
		if err != nil {
			return err
		}

		addr := c.ListenAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		if addr == "" {
			addr = "127.0.0.1:8050"
		}
		if c.APIKey == "" {
			warnf(cmd.ErrOrStderr(), "no api_key configured; AI features need a token from the browser")
		}
		okf(cmd.ErrOrStderr(), "Listening on http://%s", addr)
		log.Printf("csvlens serving on %s (provider=%s model=%s)", addr, c.Provider, c.Model)
		return srv.Run(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config listen_addr)")
}
