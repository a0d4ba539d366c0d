package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/interfaces"
	"github.com/qqmikey/datachat/pkg/query"
	"github.com/qqmikey/datachat/pkg/repository"
	"github.com/qqmikey/datachat/pkg/service/executor"
	"github.com/qqmikey/datachat/pkg/service/manifest"
	"github.com/qqmikey/datachat/pkg/service/router"
	"github.com/qqmikey/datachat/pkg/usecase/assistant"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	dbPath string

	// Data sources
	postgresDSN string
	schemaFile  string

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiModel    string

	// Identity for CLI commands
	user string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DATACHAT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("DATACHAT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "db",
			Usage:       "Path to the bbolt database file (empty keeps everything in memory)",
			Sources:     cli.EnvVars("DATACHAT_DB"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL connection string for the project database",
			Sources:     cli.EnvVars("DATACHAT_POSTGRES_DSN"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "schema-file",
			Usage:       "YAML schema file with entity types and optional sample rows",
			Sources:     cli.EnvVars("DATACHAT_SCHEMA_FILE"),
			Destination: &cfg.schemaFile,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User name owning CLI conversations",
			Value:       "local",
			Sources:     cli.EnvVars("DATACHAT_USER"),
			Destination: &cfg.user,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model used for routing and generation",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// setupLogger installs the default logger per flags.
func (cfg *config) setupLogger() {
	logging.SetDefault(logging.New(cfg.logLevel, cfg.logFormat, os.Stdout))
}

// newRepository creates the conversation store: bbolt when a path is given,
// in-memory otherwise.
func (cfg *config) newRepository() (interfaces.Repository, error) {
	if cfg.dbPath == "" {
		return repository.NewMemory(), nil
	}
	repo, err := repository.NewBolt(cfg.dbPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", cfg.dbPath))
	}
	return repo, nil
}

// newDataBackend creates the schema registry and the query data source from
// the same backend: PostgreSQL when a DSN is given, the YAML schema file
// otherwise.
func (cfg *config) newDataBackend() (adapter.SchemaRegistry, query.DataSource, error) {
	if cfg.postgresDSN != "" {
		pg, err := adapter.NewPostgres(cfg.postgresDSN)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to connect to postgres")
		}
		return pg, pg, nil
	}
	if cfg.schemaFile != "" {
		reg, err := adapter.NewFileRegistry(cfg.schemaFile)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to load schema file", goerr.V("path", cfg.schemaFile))
		}
		return reg, reg.Source(), nil
	}
	return nil, nil, goerr.New("either postgres-dsn or schema-file is required")
}

// newLLM creates the Gemini adapter, or a not-configured stand-in when no
// project is set.
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	if cfg.geminiProject == "" {
		return adapter.NoLLM{}, nil
	}
	llm, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return llm, nil
}

// newAssistant wires the whole pipeline and refreshes the manifest once.
func (cfg *config) newAssistant(ctx context.Context) (*assistant.Assistant, interfaces.Repository, *manifest.Cache, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, nil, err
	}
	registry, source, err := cfg.newDataBackend()
	if err != nil {
		return nil, nil, nil, err
	}
	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cache := manifest.New(registry)
	if err := cache.Refresh(ctx); err != nil {
		return nil, nil, nil, goerr.Wrap(err, "initial schema refresh failed")
	}

	as := assistant.New(repo, llm, router.New(llm), cache, executor.New(source))
	return as, repo, cache, nil
}
