package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/repository"
)

type configStore interface {
	Get(ctx context.Context, tenantID string, key repository.Key) (repository.Item, bool, error)
	Put(ctx context.Context, tenantID string, item repository.Item) error
}

type toolRecord struct {
	Name                 string `dynamodbav:"name"`
	Description          string `dynamodbav:"description,omitempty"`
	Enabled              bool   `dynamodbav:"enabled"`
	RequiresConfirmation bool   `dynamodbav:"requiresConfirmation"`
}

type configRecord struct {
	TenantID     string       `dynamodbav:"tenantId"`
	AgentID      string       `dynamodbav:"agentId"`
	AgentArn     string       `dynamodbav:"agentArn"`
	AgentAliasID string       `dynamodbav:"agentAliasId"`
	AgentType    string       `dynamodbav:"agentType"`
	Tools        []toolRecord `dynamodbav:"tools"`
	GuardrailID  string       `dynamodbav:"guardrailId,omitempty"`
	CreatedAt    string       `dynamodbav:"createdAt"`
	UpdatedAt    string       `dynamodbav:"updatedAt"`
}

// Configs reads and writes the per-tenant agent routing record. The gateway
// only reads; writes come from the operator CLI.
type Configs struct {
	store configStore
	now   func() time.Time
}

func NewConfigs(store configStore) (*Configs, error) {
	if store == nil {
		return nil, errors.New("agent: store must not be nil")
	}
	return &Configs{store: store, now: time.Now}, nil
}

func configKey(tenantID string) repository.Key {
	return repository.Key{PK: keys.Tenant(tenantID), SK: keys.AgentConfigSK}
}

// Get fails with AgentNotConfigured when the tenant has no record.
func (c *Configs) Get(ctx context.Context, tenantID string) (domain.AgentConfig, error) {
	item, found, err := c.store.Get(ctx, tenantID, configKey(tenantID))
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("agent: load config: %w", err)
	}
	if !found {
		return domain.AgentConfig{}, domain.NewError(domain.ErrorAgentNotConfigured, "agent_not_configured",
			fmt.Errorf("no agent configured for tenant %q", tenantID))
	}

	var r configRecord
	if err := repository.UnmarshalItem(item, &r); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("agent: decode config: %w", err)
	}
	cfg := domain.AgentConfig{
		TenantID:     r.TenantID,
		AgentID:      r.AgentID,
		AgentArn:     r.AgentArn,
		AgentAliasID: r.AgentAliasID,
		AgentType:    domain.AgentType(r.AgentType),
		Tools:        make([]domain.AgentTool, 0, len(r.Tools)),
		GuardrailID:  r.GuardrailID,
	}
	for _, t := range r.Tools {
		cfg.Tools = append(cfg.Tools, domain.AgentTool(t))
	}
	// Records written by hand may lack timestamps.
	cfg.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return cfg, nil
}

// Put writes the tenant's routing record, keeping CreatedAt from an earlier
// record when one exists.
func (c *Configs) Put(ctx context.Context, cfg domain.AgentConfig) (domain.AgentConfig, error) {
	if err := validateConfig(cfg); err != nil {
		return domain.AgentConfig{}, err
	}

	now := c.now().UTC()
	cfg.UpdatedAt = now
	existing, err := c.Get(ctx, cfg.TenantID)
	switch {
	case err == nil && !existing.CreatedAt.IsZero():
		cfg.CreatedAt = existing.CreatedAt
	case err == nil, domain.HasCode(err, domain.ErrorAgentNotConfigured):
		cfg.CreatedAt = now
	default:
		return domain.AgentConfig{}, err
	}
	if cfg.Tools == nil {
		cfg.Tools = []domain.AgentTool{}
	}

	r := configRecord{
		TenantID:     cfg.TenantID,
		AgentID:      cfg.AgentID,
		AgentArn:     cfg.AgentArn,
		AgentAliasID: cfg.AgentAliasID,
		AgentType:    string(cfg.AgentType),
		Tools:        make([]toolRecord, 0, len(cfg.Tools)),
		GuardrailID:  cfg.GuardrailID,
		CreatedAt:    cfg.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    cfg.UpdatedAt.Format(time.RFC3339Nano),
	}
	for _, t := range cfg.Tools {
		r.Tools = append(r.Tools, toolRecord(t))
	}
	item, err := repository.MarshalItem(configKey(cfg.TenantID), r)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	if err := c.store.Put(ctx, cfg.TenantID, item); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("agent: store config: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg domain.AgentConfig) error {
	if strings.TrimSpace(cfg.TenantID) == "" {
		return domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	if strings.TrimSpace(cfg.AgentID) == "" || strings.TrimSpace(cfg.AgentAliasID) == "" {
		return domain.NewError(domain.ErrorInvalidPayload, "missing_agent_route",
			errors.New("agentId and agentAliasId are required"))
	}
	switch cfg.AgentType {
	case domain.AgentSingle, domain.AgentSwarm:
	default:
		return domain.NewError(domain.ErrorInvalidPayload, "invalid_agent_type", fmt.Errorf("agentType %q", cfg.AgentType))
	}
	return nil
}
