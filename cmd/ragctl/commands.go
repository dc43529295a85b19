package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/localfs"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/query"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/syncer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
)

type directoryIngester interface {
	Ingest(ctx context.Context, root string) (*localfs.Report, error)
}

type answerer interface {
	Process(ctx context.Context, q string, limit int) (*query.Answer, error)
}

// services is what the subcommands need from a running pipeline.
type services struct {
	walker directoryIngester
	syncer syncer.Service
	engine answerer
	close  func() error
}

type opener func(ctx context.Context, cmd *cli.Command) (*services, error)

// openServices loads configuration and builds the full pipeline.
func openServices(ctx context.Context, cmd *cli.Command) (*services, error) {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return nil, err
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &services{
		walker: a.Walker(cmd.Int64("max-bytes")),
		syncer: a.Syncer,
		engine: a.Engine,
		close:  a.Close,
	}, nil
}

func newCommand(open opener) *cli.Command {
	runOpts := []cli.Flag{
		&cli.IntFlag{Name: "max-pages", Usage: "stop discovery after this many pages (0 uses the configured default)"},
		&cli.IntFlag{Name: "page-size", Usage: "results per listing request, at most 100 (0 uses the configured default)"},
		&cli.BoolFlag{Name: "dry-run", Usage: "discover pages without ingesting them"},
	}

	return &cli.Command{
		Name:  "ragctl",
		Usage: "ingest, sync and query the retrieval pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config file", Value: "configs/development.yaml"},
			&cli.StringFlag{Name: "env", Usage: "optional .env file with secrets", Value: ".env"},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "ingest every eligible file under a directory",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "max-bytes", Usage: "skip files larger than this", Value: localfs.DefaultMaxBytes},
				},
				Action: withServices(open, func(ctx context.Context, cmd *cli.Command, s *services) error {
					dir, err := singleArg(cmd, "directory")
					if err != nil {
						return err
					}
					report, err := s.walker.Ingest(ctx, dir)
					if err != nil {
						return err
					}
					return printJSON(cmd, report)
				}),
			},
			{
				Name:  "sync",
				Usage: "sync workspace content into the index",
				Commands: []*cli.Command{
					{
						Name:      "page",
						Usage:     "sync a single page",
						ArgsUsage: "<page-id>",
						Action: withServices(open, func(ctx context.Context, cmd *cli.Command, s *services) error {
							id, err := singleArg(cmd, "page id")
							if err != nil {
								return err
							}
							res, err := s.syncer.SyncPage(ctx, id)
							if err != nil {
								return err
							}
							return printJSON(cmd, res)
						}),
					},
					{
						Name:      "database",
						Usage:     "sync every page of a database",
						ArgsUsage: "<database-id>",
						Flags:     runOpts,
						Action: withServices(open, func(ctx context.Context, cmd *cli.Command, s *services) error {
							id, err := singleArg(cmd, "database id")
							if err != nil {
								return err
							}
							run, err := s.syncer.SyncDatabase(ctx, id, syncOptions(cmd))
							if err != nil {
								return err
							}
							return printJSON(cmd, run)
						}),
					},
					{
						Name:  "all",
						Usage: "sync every page the integration can see",
						Flags: runOpts,
						Action: withServices(open, func(ctx context.Context, cmd *cli.Command, s *services) error {
							run, err := s.syncer.SyncAllAccessiblePages(ctx, syncOptions(cmd))
							if err != nil {
								return err
							}
							return printJSON(cmd, run)
						}),
					},
				},
			},
			{
				Name:      "query",
				Usage:     "answer a question from the indexed corpus",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "maximum number of sources (0 uses the configured default)"},
				},
				Action: withServices(open, func(ctx context.Context, cmd *cli.Command, s *services) error {
					q := strings.Join(cmd.Args().Slice(), " ")
					if strings.TrimSpace(q) == "" {
						return fmt.Errorf("a question is required")
					}
					ans, err := s.engine.Process(ctx, q, cmd.Int("limit"))
					if err != nil {
						return err
					}
					if err := printJSON(cmd, ans); err != nil {
						return err
					}
					if ans.Errored {
						return fmt.Errorf("answer unavailable")
					}
					return nil
				}),
			},
		},
	}
}

func withServices(open opener, fn func(ctx context.Context, cmd *cli.Command, s *services) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := open(ctx, cmd)
		if err != nil {
			return err
		}
		if s.close != nil {
			defer s.close()
		}
		return fn(ctx, cmd, s)
	}
}

func syncOptions(cmd *cli.Command) syncer.Options {
	return syncer.Options{
		MaxPages: cmd.Int("max-pages"),
		PageSize: cmd.Int("page-size"),
		DryRun:   cmd.Bool("dry-run"),
	}
}

func singleArg(cmd *cli.Command, what string) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one %s, got %d arguments", what, cmd.Args().Len())
	}
	return cmd.Args().First(), nil
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
