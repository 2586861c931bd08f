package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"flowops/internal/actions"
	"flowops/internal/agent"
	"flowops/internal/config"
	"flowops/internal/conversation"
	"flowops/internal/idempotency"
	"flowops/internal/integrations/bedrock"
	"flowops/internal/integrations/natsalert"
	"flowops/internal/integrations/openai"
	"flowops/internal/integrations/paramstore"
	"flowops/internal/integrations/snsalert"
	"flowops/internal/metrics"
	"flowops/internal/notify"
	"flowops/internal/repository"
	"flowops/internal/summary"
	"flowops/internal/ticket"
)

// Stores holds one Record Store per table.
type Stores struct {
	Tickets       repository.Store
	Conversations repository.Store
	AgentConfigs  repository.Store
}

// Deps are the external collaborators Assemble wires together.
type Deps struct {
	Stores     Stores
	Invoker    agent.Invoker
	Params     paramstore.Getter
	Publishers []notify.Named
	Guard      actions.Guard
	Registry   prometheus.Registerer
	Logger     *slog.Logger
}

// App is the assembled core shared by every binary.
type App struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Tickets       *ticket.Service
	Conversations *conversation.Service
	AgentConfigs  *agent.Configs
	Gateway       *agent.Gateway
	Actions       *actions.Executor
	Summaries     *summary.Service

	closers []io.Closer
}

// Assemble builds the services from d. Only Stores, Invoker and Params are
// required; without publishers notifications are discarded.
func Assemble(cfg *config.Config, d Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if d.Stores.Tickets == nil || d.Stores.Conversations == nil || d.Stores.AgentConfigs == nil {
		return nil, errors.New("app: all stores are required")
	}
	if d.Invoker == nil {
		return nil, errors.New("app: invoker must not be nil")
	}
	if d.Params == nil {
		return nil, errors.New("app: parameter getter must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.New(d.Registry)

	publishers := d.Publishers
	if len(publishers) == 0 {
		logger.Warn("no notification transport configured; alerts are discarded")
		publishers = []notify.Named{{Name: "discard", Publisher: notify.Discard{}}}
	}
	fanout, err := notify.NewFanout(logger, m, publishers...)
	if err != nil {
		return nil, err
	}

	tickets, err := ticket.NewService(d.Stores.Tickets, fanout, ticket.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	convs, err := conversation.NewService(d.Stores.Conversations, nil)
	if err != nil {
		return nil, err
	}
	configs, err := agent.NewConfigs(d.Stores.AgentConfigs)
	if err != nil {
		return nil, err
	}
	gateway, err := agent.NewGateway(configs, d.Invoker,
		agent.WithRecorder(convs), agent.WithTicketLinker(tickets), agent.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	execOpts := []actions.Option{actions.WithMetrics(m), actions.WithLogger(logger)}
	if d.Guard != nil {
		execOpts = append(execOpts, actions.WithGuard(d.Guard))
	}
	executor, err := actions.NewExecutor(tickets, fanout, execOpts...)
	if err != nil {
		return nil, err
	}

	var llmOpts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.NewClient(d.Params, cfg.ParamPrefix, llmOpts...)
	if err != nil {
		return nil, err
	}
	summaryOpts := []summary.Option{summary.WithParams(d.Params, cfg.ParamPrefix)}
	if cfg.SummaryModel != "" {
		summaryOpts = append(summaryOpts, summary.WithModel(cfg.SummaryModel))
	}
	summaries, err := summary.NewService(llm, tickets, convs, summaryOpts...)
	if err != nil {
		return nil, err
	}

	return &App{
		Logger:        logger,
		Metrics:       m,
		Tickets:       tickets,
		Conversations: convs,
		AgentConfigs:  configs,
		Gateway:       gateway,
		Actions:       executor,
		Summaries:     summaries,
	}, nil
}

// NewAWS wires the core against DynamoDB, SSM, SNS, Bedrock and, when
// configured, Redis and NATS.
func NewAWS(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	ddb := awsdynamodb.NewFromConfig(awsCfg)
	var stores Stores
	if stores.Tickets, err = repository.New(ddb, cfg.TicketsTable, ticket.Indexes()...); err != nil {
		return nil, err
	}
	if stores.Conversations, err = repository.New(ddb, cfg.ConversationsTable, conversation.Indexes()...); err != nil {
		return nil, err
	}
	if stores.AgentConfigs, err = repository.New(ddb, cfg.AgentConfigTable); err != nil {
		return nil, err
	}

	return build(ctx, cfg, awsCfg, stores, logger, reg)
}

// NewLocal keeps records in memory. Inference and parameters still go to
// AWS with the default credential chain.
func NewLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	stores := Stores{
		Tickets:       repository.NewMemory(ticket.Indexes()...),
		Conversations: repository.NewMemory(conversation.Indexes()...),
		AgentConfigs:  repository.NewMemory(),
	}
	return build(ctx, cfg, awsCfg, stores, logger, reg)
}

func build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, stores Stores, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithTTL(cfg.ParamCacheTTL))
	if err != nil {
		return nil, err
	}
	invoker, err := bedrock.New(bedrockagentruntime.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	targets, err := resolvePublishers(ctx, cfg, logger, params, awssns.NewFromConfig(awsCfg), &closers)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	var guard actions.Guard
	if cfg.Redis.URL != "" {
		rdb, err := idempotency.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		closers = append(closers, rdb)
		g, err := idempotency.New(rdb, cfg.Redis.IdempotencyTTL)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		guard = g
	}

	a, err := Assemble(cfg, Deps{
		Stores:     stores,
		Invoker:    invoker,
		Params:     params,
		Publishers: targets,
		Guard:      guard,
		Registry:   reg,
		Logger:     logger,
	})
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// resolvePublishers resolves the alert topic from config, falling back to
// <prefix>/config/alert_topic_arn, and adds NATS when a URL is set.
func resolvePublishers(ctx context.Context, cfg *config.Config, logger *slog.Logger, params paramstore.Getter, sns snsalert.API, closers *[]io.Closer) ([]notify.Named, error) {
	var out []notify.Named

	topic := cfg.AlertTopicARN
	if topic == "" {
		var err error
		topic, err = paramstore.Lookup(ctx, params, cfg.ParamPrefix+"/config/alert_topic_arn", "")
		if err != nil {
			return nil, fmt.Errorf("app: resolve alert topic: %w", err)
		}
	}
	if topic != "" {
		p, err := snsalert.New(sns, topic)
		if err != nil {
			return nil, err
		}
		out = append(out, notify.Named{Name: "sns", Publisher: p})
	}

	if cfg.NATS.URL != "" {
		nc, err := natsalert.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, closerFunc(func() error { return nc.Drain() }))
		p, err := natsalert.New(nc, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		out = append(out, notify.Named{Name: "nats", Publisher: p})
	}
	return out, nil
}

// Close releases network connections opened by NewAWS or NewLocal.
func (a *App) Close() {
	closeAll(a.closers)
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func closeAll(cs []io.Closer) {
	for i := len(cs) - 1; i >= 0; i-- {
		_ = cs[i].Close()
	}
}

// NewLogger returns a JSON logger at the configured level. An unparsable
// level falls back to info.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
