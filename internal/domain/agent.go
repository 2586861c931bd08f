package domain

import "time"

type AgentType string

const (
	AgentSingle AgentType = "single"
	AgentSwarm  AgentType = "swarm"
)

type AgentTool struct {
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	Enabled              bool   `json:"enabled"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// AgentConfig routes a tenant's chat turns to its managed agent.
type AgentConfig struct {
	TenantID     string      `json:"tenantId"`
	AgentID      string      `json:"agentId"`
	AgentArn     string      `json:"agentArn"`
	AgentAliasID string      `json:"agentAliasId"`
	AgentType    AgentType   `json:"agentType"`
	Tools        []AgentTool `json:"tools"`
	GuardrailID  string      `json:"guardrailId,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}
