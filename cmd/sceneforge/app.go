package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rahul/sceneforge/internal/agent"
	"github.com/rahul/sceneforge/internal/governance"
	"github.com/rahul/sceneforge/internal/knowledge"
	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/store"
	"github.com/rahul/sceneforge/internal/tools"
	"github.com/rahul/sceneforge/internal/vectorstore"
	"github.com/rahul/sceneforge/pkg/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// app holds every wired component. Commands build only what they need
// through newApp and release it with close.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	reg     *prometheus.Registry

	history  *store.HistoryStore
	index    *vectorstore.PersistentStore
	embedder embeddings.Embedder
	model    llm.ChatModel

	scene        *tools.Scene
	registry     *tools.Registry
	ingester     *knowledge.Ingester
	orchestrator *agent.Orchestrator

	metricsServer *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	base, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{
		cfg:    cfg,
		logger: observability.FromZap(base.Zap(), cfg.Logging.LLMLog),
		reg:    prometheus.NewRegistry(),
	}
	a.metrics = observability.InitMetrics(a.reg)

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, errors.New("no enabled provider found in config")
	}

	var client *openai.LLM
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(pCfg.EmbeddingModel))
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		client, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not yet implemented", pName)
	}
	if err != nil {
		return nil, err
	}
	a.model = llm.NewLangChainModel(client)
	a.embedder, err = embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	// history and knowledge share one handle so their writes never race
	// for the sqlite file lock
	db, err := store.OpenDB(cfg.Memory.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Memory.Path, err)
	}
	a.history, err = store.NewHistoryStoreDB(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	a.index, err = vectorstore.NewPersistent(ctx, db, cfg.Knowledge.Dimensions)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	a.metrics.SetKnowledgeDocuments(a.index.Count())

	a.ingester = knowledge.NewIngester(a.index, a.embedder, cfg.Knowledge.ChunkTokens)
	a.ingester.Logger = a.logger
	a.ingester.Metrics = a.metrics

	if err := a.buildTools(); err != nil {
		a.close()
		return nil, err
	}
	a.buildAgent(pCfg)
	return a, nil
}

func (a *app) buildTools() error {
	a.registry = tools.NewRegistry()
	a.scene = tools.NewScene()
	tools.RegisterSceneTools(a.registry, a.scene)

	a.registry.Register(tools.NewRAGTool(vectorstore.NewLangChainStore(a.index, a.embedder), a.cfg.Knowledge.TopK))
	a.registry.Register(tools.NewScraperTool(knowledge.NewFetcher(), a.ingester))

	search, err := tools.NewSearchTool(5)
	if err != nil {
		a.logger.Zap().Warn("web search disabled", zap.Error(err))
	} else {
		a.registry.Register(search)
	}

	gov, err := governance.NewPolicyEngine(a.cfg.Policy.DeniedTools, a.cfg.Policy.DeniedPatterns)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	a.registry.SetPolicy(gov)
	return nil
}

func (a *app) buildAgent(provider config.ProviderConfig) {
	k, ac := a.cfg.Knowledge, a.cfg.Agent

	prompts := agent.NewPromptManager(ac.PromptsDir)
	prompts.Logger = a.logger

	assembler := knowledge.NewAssembler(a.index, a.embedder)
	assembler.Budget = k.ContextBudget
	assembler.KnowledgeCeiling = k.KnowledgeCeiling
	assembler.ReplyReserve = k.ReplyReserve
	assembler.TopK = k.TopK
	assembler.Logger = a.logger
	assembler.Metrics = a.metrics

	worker := agent.NewWorker(a.model, a.registry, assembler, prompts)
	worker.History = a.history
	worker.ModelName = provider.Model
	worker.Temperature = ac.Temperature
	worker.MaxOutputTokens = ac.MaxOutputTokens
	worker.MaxToolRounds = ac.MaxToolRounds
	worker.HistoryLimit = ac.HistoryLimit
	worker.Logger = a.logger
	worker.Router.Logger = a.logger
	worker.Router.Metrics = a.metrics

	planner := agent.NewPlanner(a.model, a.registry, prompts)
	planner.Temperature = ac.Temperature
	planner.MaxOutputTokens = ac.MaxOutputTokens
	planner.PricePer1K = provider.PricePer1K
	planner.Logger = a.logger

	o := agent.NewOrchestrator(planner, worker, a.history, a.scene)
	o.HistoryLimit = ac.HistoryLimit
	o.Logger = a.logger
	o.Metrics = a.metrics
	o.Machine.Logger = a.logger
	o.Machine.Metrics = a.metrics
	a.orchestrator = o
}

// serveMetrics exposes the registry when a listen address is configured.
func (a *app) serveMetrics() {
	if a.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Zap().Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Zap().Info("serving metrics", zap.String("addr", a.cfg.Metrics.Listen))
}

func (a *app) close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	// both stores hold the same *sql.DB; closing it twice is harmless
	if a.index != nil {
		a.index.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	_ = a.logger.Sync()
}
