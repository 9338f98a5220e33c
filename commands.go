package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/begoneskadedjur/kundportal-sub013/config"
	"github.com/begoneskadedjur/kundportal-sub013/service"
	"github.com/begoneskadedjur/kundportal-sub013/storage/postgres"
	"github.com/begoneskadedjur/kundportal-sub013/storage/sqlite"
)

type migrator interface {
	Migrate(ctx context.Context) ([]string, error)
}

type store struct {
	repo     service.Repository
	migrator migrator // nil for the memory driver
	close    func()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &store{repo: pg, migrator: pg, close: pg.Close}, nil
	case "sqlite":
		lite, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return &store{repo: lite, migrator: lite, close: func() { lite.Close() }}, nil
	default:
		return &store{repo: service.NewMemoryStore(cfg.MaxSyncLogs), close: func() {}}, nil
	}
}

// app is the wired service graph shared by serve and the import commands
type app struct {
	store     *store
	processor *service.Processor
	importer  *service.Importer
}

func newApp(ctx context.Context, cfg *config.Config, withArchive bool) (*app, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	client, err := service.NewESignClient(
		service.ESignClientConfig{
			BaseURL: cfg.ESign.APIURL,
			Timeout: time.Duration(cfg.ESign.TimeoutSeconds) * time.Second,
		},
		service.Credentials{APIToken: cfg.ESign.APIToken, UserEmail: cfg.ESign.UserEmail},
	)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("failed to create e-sign client: %w", err)
	}

	registry := service.NewDefaultTemplateRegistry()
	gateway := service.NewGateway(st.repo)

	deps := service.ProcessorDeps{
		Client:      client,
		Registry:    registry,
		Gateway:     gateway,
		Provisioner: service.NewProvisioner(gateway, st.repo),
		SyncLog:     st.repo,
		SignKey:     cfg.ESign.SignKey,
	}
	if withArchive && cfg.Archive.Enabled {
		archive, err := service.NewMinioArchive(&cfg.Archive)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("failed to initialize payload archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			st.close()
			return nil, fmt.Errorf("failed to ensure archive bucket: %w", err)
		}
		deps.Archive = archive
	}
	if cfg.ESign.SignKey == "" {
		slog.Warn("esign.sign_key is empty, webhook signatures will not be verified")
	}

	return &app{
		store:     st,
		processor: service.NewProcessor(deps),
		importer:  service.NewImporter(client, registry, gateway, cfg.Import.Concurrency),
	}, nil
}

func (a *app) Close() { a.store.close() }

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured SQL store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer st.close()

			if st.migrator == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "memory store has no migrations")
				return nil
			}
			applied, err := st.migrator.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	imp := &cobra.Command{Use: "import", Short: "List and import documents from the e-signature provider"}
	imp.AddCommand(importListCmd())
	imp.AddCommand(importRunCmd())
	return imp
}

func importListCmd() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List provider documents that are not imported yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = cfg.Import.DefaultPageSize
			}
			result, err := a.importer.List(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return writeJSON(cmd, result)
			}
			renderCandidates(cmd, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default import.default_page_size)")
	return cmd
}

func importRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>...",
		Short: "Import documents by provider id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			summary := a.importer.Import(cmd.Context(), args)
			if viper.GetBool("json") {
				if err := writeJSON(cmd, summary); err != nil {
					return err
				}
			} else {
				renderSummary(cmd, summary)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d imports failed", summary.Failed, len(summary.Results))
			}
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderCandidates(cmd *cobra.Command, result *service.ImportListResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"ID", "Name", "State", "Type", "Template"})
	for _, c := range result.Contracts {
		tw.AppendRow(table.Row{c.ID, c.Name, c.State, c.DocumentType, c.TemplateLabel})
	}
	tw.AppendFooter(table.Row{
		"", fmt.Sprintf("page %d, %d per page", result.Page, result.Limit),
		fmt.Sprintf("total %d", result.TotalCount),
		fmt.Sprintf("skipped %d", result.FilteredGate),
		fmt.Sprintf("imported %d", result.FilteredExisting),
	})
	tw.Render()
	if result.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), "more documents on page %d\n", result.Page+1)
	}
}

func renderSummary(cmd *cobra.Command, summary *service.ImportSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"ID", "Result", "Type", "Status", "Created", "Error"})
	for _, r := range summary.Results {
		outcome := "ok"
		if !r.Success {
			outcome = "failed"
		}
		tw.AppendRow(table.Row{r.ID, outcome, r.DocumentType, r.Status, r.Created, r.Error})
	}
	tw.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "%d successful (%d contracts, %d offers), %d failed\n",
		summary.Successful, summary.Contracts, summary.Offers, summary.Failed)
}
