package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/adapters"
	"github.com/rivalapexmediation/auction/internal/analytics"
	"github.com/rivalapexmediation/auction/internal/config"
	"github.com/rivalapexmediation/auction/internal/db"
	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
)

type ListAdaptersInput struct {
	EnabledOnly bool `json:"enabled_only,omitempty"`
}

type ListAdaptersOutput struct {
	Adapters []models.AdapterDescriptor `json:"adapters"`
}

type GetAdapterPerformanceInput struct {
	AdapterIDs []string `json:"adapter_ids,omitempty"` // defaults to every registered adapter
}

type GetAdapterPerformanceOutput struct {
	Performance []adapters.Performance `json:"performance"`
}

type GetWaterfallSummaryInput struct {
	SinceHours int `json:"since_hours,omitempty"`
}

type GetWaterfallSummaryOutput struct {
	Since time.Time               `json:"since"`
	Modes []analytics.ModeSummary `json:"modes"`
}

type performanceSource interface {
	Performance(ctx context.Context, ids []string) ([]adapters.Performance, error)
}

type summarySource interface {
	Summary(ctx context.Context, since time.Time) ([]analytics.ModeSummary, error)
}

// OperatorServer answers read-only questions about the mediation stack.
type OperatorServer struct {
	registry    adapters.Registry
	performance performanceSource
	summary     summarySource
	logger      *zap.Logger
	now         func() time.Time
}

// ListAdapters implements the list_adapters tool.
func (s *OperatorServer) ListAdapters(ctx context.Context, req *mcp.CallToolRequest, input ListAdaptersInput) (*mcp.CallToolResult, ListAdaptersOutput, error) {
	list, err := s.registry.GetAdapterConfig(ctx)
	if err != nil {
		return nil, ListAdaptersOutput{}, fmt.Errorf("load adapters: %w", err)
	}
	if input.EnabledOnly {
		list = models.EnabledAdapters(list)
	}
	if list == nil {
		list = []models.AdapterDescriptor{}
	}
	return nil, ListAdaptersOutput{Adapters: list}, nil
}

// GetAdapterPerformance implements the get_adapter_performance tool.
func (s *OperatorServer) GetAdapterPerformance(ctx context.Context, req *mcp.CallToolRequest, input GetAdapterPerformanceInput) (*mcp.CallToolResult, GetAdapterPerformanceOutput, error) {
	ids := input.AdapterIDs
	if len(ids) == 0 {
		list, err := s.registry.GetAdapterConfig(ctx)
		if err != nil {
			return nil, GetAdapterPerformanceOutput{}, fmt.Errorf("load adapters: %w", err)
		}
		for _, a := range list {
			ids = append(ids, a.ID)
		}
	}
	perf, err := s.performance.Performance(ctx, ids)
	if err != nil {
		return nil, GetAdapterPerformanceOutput{}, err
	}
	s.logger.Info("adapter performance served", zap.Int("adapters", len(perf)))
	return nil, GetAdapterPerformanceOutput{Performance: perf}, nil
}

// GetWaterfallSummary implements the get_waterfall_summary tool.
func (s *OperatorServer) GetWaterfallSummary(ctx context.Context, req *mcp.CallToolRequest, input GetWaterfallSummaryInput) (*mcp.CallToolResult, GetWaterfallSummaryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hours := input.SinceHours
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	modes, err := s.summary.Summary(ctx, since)
	if err != nil {
		return nil, GetWaterfallSummaryOutput{}, fmt.Errorf("waterfall summary: %w", err)
	}
	if modes == nil {
		modes = []analytics.ModeSummary{}
	}
	return nil, GetWaterfallSummaryOutput{Since: since, Modes: modes}, nil
}

func newMCPServer(ops *OperatorServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mediation-auction",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_adapters",
		Description: "List the demand adapters known to the mediation registry",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"enabled_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only return enabled adapters",
				},
			},
		},
	}, ops.ListAdapters)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_adapter_performance",
		Description: "Report per-adapter fill counters used to order the smart waterfall",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"adapter_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Adapters to report (optional, defaults to all registered adapters)",
				},
			},
		},
	}, ops.GetAdapterPerformance)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_waterfall_summary",
		Description: "Summarize recorded waterfall outcomes per mode",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"since_hours": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Look-back window in hours (optional, defaults to 24)",
				},
			},
		},
	}, ops.GetWaterfallSummary)

	return server
}

func main() {
	// stdout carries the MCP protocol, so logs go to stderr.
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("mediation-mcp").With(zap.String("service", "mediation-mcp"))

	cfg := config.Load()
	ctx := context.Background()

	store, err := db.InitRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer store.Close()

	var pg *db.Postgres
	if cfg.RegistryBackend == config.RegistryPostgres {
		pg, err = db.InitPostgres(cfg.PostgresDSN, 5, 2, 30*time.Minute, time.Minute)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pg.Close()
	}

	registry, err := adapters.NewRegistry(cfg, store, pg, logger)
	if err != nil {
		logger.Fatal("Failed to build adapter registry", zap.Error(err))
	}

	// A nil *Analytics answers every query with ErrUnavailable.
	ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, 5, observability.NewNoOpRegistry())
	if err != nil {
		logger.Warn("ClickHouse unavailable, waterfall summaries disabled", zap.Error(err))
	}
	defer ch.Close()

	ops := &OperatorServer{
		registry:    registry,
		performance: adapters.NewPerformanceTracker(store.Client),
		summary:     ch,
		logger:      logger,
		now:         time.Now,
	}

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio", zap.String("registry", cfg.RegistryBackend))
	if err := newMCPServer(ops).Run(ctx, transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
