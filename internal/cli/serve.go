// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hfhub/internal/server"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr        string
		port        int
		modelsDir   string
		datasetsDir string
		workers     int
		endpoint    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for web-based downloads",
		Long: `Start an HTTP server that provides:
  - REST API for download management
  - WebSocket for live progress updates

Output paths are configured server-side only (not via API) for security.

Example:
  hfdownloader serve
  hfdownloader serve --port 3000
  hfdownloader serve --models-dir ./Models --datasets-dir ./Datasets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.Config{
				Addr:        addr,
				Port:        port,
				ModelsDir:   modelsDir,
				DatasetsDir: datasetsDir,
				MaxWorkers:  workers,
				Endpoint:    endpoint,
			}

			token := strings.TrimSpace(ro.Token)
			if token == "" {
				token = strings.TrimSpace(os.Getenv("HF_TOKEN"))
			}
			cfg.Token = token

			srv := server.New(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println()
			fmt.Println("hfdownloader web server")
			fmt.Println()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "./Models", "Cache directory for models")
	cmd.Flags().StringVar(&datasetsDir, "datasets-dir", "./Datasets", "Cache directory for datasets")
	cmd.Flags().IntVarP(&workers, "max-workers", "c", 8, "Max concurrent file downloads per snapshot")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Hugging Face Hub endpoint override")

	return cmd
}
