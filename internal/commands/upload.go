package commands

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/ingest"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

func newUploadCommand(g *globals) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload local files into a kind's source folder in the GCS bucket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseKind(kind)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(g.configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Bucket == "" {
				return errors.New("storage.bucket must be configured")
			}
			folder, err := ingest.FolderFor(cfg.Folders, k)
			if err != nil {
				return err
			}

			log := logger.NewConsole(cmd.ErrOrStderr(), cfg.LogLevel)
			ctx := logger.WithContext(cmd.Context(), log)

			src, err := cloudfiles.NewGCSSource(ctx, cfg.Storage.Bucket)
			if err != nil {
				return err
			}
			defer src.Close()

			var names []string
			for _, path := range args {
				contentType := mime.TypeByExtension(filepath.Ext(path))
				if contentType == "" {
					contentType = "application/octet-stream"
				}
				name, err := src.Upload(ctx, folder, path, contentType)
				if err != nil {
					return err
				}
				log.Debug().Str("object", name).Str("content_type", contentType).Msg("Uploaded file")
				names = append(names, name)
			}

			return g.print(cmd.OutOrStdout(), names, func(w io.Writer) {
				for _, name := range names {
					fmt.Fprintf(w, "Uploaded gs://%s/%s\n", cfg.Storage.Bucket, name)
				}
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "ingestion kind whose folder receives the files (required)")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
