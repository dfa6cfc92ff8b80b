package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/approval"
	"github.com/sells-group/prospector-cli/internal/config"
	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/persona"
	"github.com/sells-group/prospector-cli/internal/pipeline"
	"github.com/sells-group/prospector-cli/internal/resilience"
	"github.com/sells-group/prospector-cli/internal/store"
	anthropicpkg "github.com/sells-group/prospector-cli/pkg/anthropic"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	sfpkg "github.com/sells-group/prospector-cli/pkg/salesforce"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

// pipelineEnv holds the store, the approval sink, and the assembled
// pipeline shared by the discover/resume/batch/worker commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Sink     approval.Sink
	Board    *approval.NotionSink // nil without Notion credentials
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "prospector.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured run store and applies its migrations.
// The caller owns the returned store and must close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSalesforce authenticates against the CRM with the JWT bearer flow.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (PROSPECTOR_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RPS)), nil
}

// initPersona loads the persona override when one is configured, the
// built-in default otherwise.
func initPersona() (*persona.Persona, error) {
	if cfg.Persona.File == "" {
		return persona.Default(), nil
	}
	p, err := persona.Load(cfg.Persona.File)
	if err != nil {
		return nil, eris.Wrap(err, "load persona")
	}
	zap.L().Info("persona loaded", zap.String("file", cfg.Persona.File))
	return p, nil
}

// initSink picks the approval sink: the Notion review board when
// credentials are present, the local store queue otherwise.
func initSink(st store.Store) (approval.Sink, *approval.NotionSink) {
	if cfg.Notion.Token == "" || cfg.Notion.PendingDB == "" {
		zap.L().Info("notion not configured, queueing pending updates in the store")
		return approval.NewStoreSink(st), nil
	}
	board := initNotionBoard(st)
	return board, board
}

// initNotionBoard builds the review board with the configured retry and
// breaker tuning.
func initNotionBoard(st store.Store) *approval.NotionSink {
	return approval.NewNotionSink(st, approval.NewNotionClient(cfg.Notion.Token), cfg.Notion.PendingDB,
		approval.WithRetryConfig(resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMS,
			cfg.Retry.MaxBackoffMS,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		)),
		approval.WithBreakerConfig(resilience.FromCircuitConfig(
			cfg.Retry.BreakerThreshold,
			cfg.Retry.BreakerResetSecs,
		)),
	)
}

// runOptions builds the baseline per-run options from the config. Command
// flags layer overrides on top.
func runOptions() model.RunOptions {
	return model.RunOptions{
		Mode:              model.AcquireMode(cfg.Pipeline.Mode),
		MinScore:          cfg.Pipeline.MinScore,
		MaxProspects:      cfg.Pipeline.MaxProspects,
		CostCeiling:       cfg.Pipeline.CostCeiling,
		MinConnections:    cfg.Pipeline.MinConnections,
		UseLocationFilter: cfg.Pipeline.UseLocationFilter,
		StageTimeouts: model.StageTimeouts{
			Acquire:  time.Duration(cfg.Pipeline.AcquireTimeoutSecs) * time.Second,
			Validate: time.Duration(cfg.Pipeline.ValidateTimeoutSecs) * time.Second,
			Rank:     time.Duration(cfg.Pipeline.RankTimeoutSecs) * time.Second,
			Enqueue:  time.Duration(cfg.Pipeline.EnqueueTimeoutSecs) * time.Second,
		},
	}
}

// pipelineSettings projects the config onto pipeline settings.
func pipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		DatasetID:            cfg.Brightdata.DatasetID,
		RecordCap:            cfg.Brightdata.ResultCap,
		ProfileHost:          cfg.Serper.ProfileHost,
		ResultsPerQuery:      cfg.Serper.ResultsPerPage,
		MaxSearchQueries:     cfg.Serper.MaxQueries,
		MaxScrapeConcurrency: cfg.Pipeline.MaxScrapeConcurrency,
		RankModel:            cfg.Anthropic.SonnetModel,
		RankMaxTokens:        int64(cfg.Anthropic.MaxTokens),
		NameSetModel:         cfg.Anthropic.HaikuModel,
		UseGenerativeNameSet: cfg.Pipeline.NameSetUseGenerative,
		Rates:                pricingRates(cfg.Pricing),
	}
}

// pricingRates converts configured pricing into calculator rates. Model
// pricing falls back to the built-in table when the config carries none.
func pricingRates(pc config.PricingConfig) cost.Rates {
	rates := cost.Rates{
		Dataset:    cost.DatasetRate{PerSnapshot: pc.Dataset.PerSnapshot, PerRecord: pc.Dataset.PerRecord},
		Scraper:    cost.ScraperRate{PerURL: pc.Scraper.PerURL},
		Search:     cost.SearchRate{PerQuery: pc.Search.PerQuery},
		Salesforce: cost.SalesforceRate{PerCall: pc.Salesforce.PerCall},
	}

	if len(pc.Anthropic) == 0 {
		rates.Anthropic = cost.DefaultRates().Anthropic
		return rates
	}

	rates.Anthropic = make(map[string]cost.ModelRate, len(pc.Anthropic))
	for name, p := range pc.Anthropic {
		rates.Anthropic[name] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}

// initPipeline sets up the store, all API clients, and the pipeline for
// the given command mode. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	backoff := time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond
	dataClient := brightdata.NewClient(cfg.Brightdata.Key,
		brightdata.WithBaseURL(cfg.Brightdata.BaseURL),
		brightdata.WithRetry(cfg.Retry.MaxAttempts, backoff),
	)

	var searchClient serper.Client
	if cfg.Serper.Key != "" {
		searchClient = serper.NewClient(cfg.Serper.Key,
			serper.WithBaseURL(cfg.Serper.BaseURL),
			serper.WithRetry(cfg.Retry.MaxAttempts, backoff),
		)
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	crmClient, err := initSalesforce()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pers, err := initPersona()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sink, board := initSink(st)

	p, err := pipeline.New(pipelineSettings(), st, sink, pipeline.Clients{
		Data:   dataClient,
		Search: searchClient,
		AI:     aiClient,
		CRM:    crmClient,
	}, pers)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{Store: st, Pipeline: p, Sink: sink, Board: board}, nil
}
