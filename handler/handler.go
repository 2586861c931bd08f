package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"flowops/internal/domain"
)

const (
	correlationHeader = "X-Correlation-Id"
	idempotencyHeader = "Idempotency-Key"

	claimTenant  = "custom:tenant_id"
	claimSubject = "sub"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorInvalidPayload, domain.ErrorUnsupportedAction, domain.ErrorMissingTenant:
		return http.StatusBadRequest
	case domain.ErrorTenantScope:
		return http.StatusForbidden
	case domain.ErrorNotFound, domain.ErrorAgentNotConfigured:
		return http.StatusNotFound
	case domain.ErrorPreconditionFailed, domain.ErrorInvalidTransition:
		return http.StatusConflict
	case domain.ErrorInferenceFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// identity is what the authorizer vouches for. Both fields are empty when
// the function is invoked without an authorizer.
type identity struct {
	TenantID string
	UserID   string
}

func identityFrom(event events.APIGatewayProxyRequest) identity {
	claims, _ := event.RequestContext.Authorizer["claims"].(map[string]any)
	str := func(k string) string {
		v, _ := claims[k].(string)
		return strings.TrimSpace(v)
	}
	return identity{TenantID: str(claimTenant), UserID: str(claimSubject)}
}

// resolveTenant prefers the authorizer's tenant. A body naming a different
// tenant is rejected.
func resolveTenant(id identity, bodyTenant string) (string, error) {
	bodyTenant = strings.TrimSpace(bodyTenant)
	if id.TenantID == "" {
		return bodyTenant, nil
	}
	if bodyTenant != "" && bodyTenant != id.TenantID {
		return "", domain.NewError(domain.ErrorTenantScope, "tenant_mismatch", nil)
	}
	return id.TenantID, nil
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func correlationID(event events.APIGatewayProxyRequest) string {
	if v := header(event.Headers, correlationHeader); v != "" {
		return v
	}
	if event.RequestContext.RequestID != "" {
		return event.RequestContext.RequestID
	}
	return uuid.NewString()
}

func jsonResponse(status int, correlation string, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlation,
		},
		Body: string(data),
	}
}

func errorResponse(logger *slog.Logger, correlation string, err error, attrs ...any) events.APIGatewayProxyResponse {
	code := domain.CodeOf(err)
	status := StatusFor(code)
	attrs = append(attrs, "correlation_id", correlation, "code", code, "status", status, "err", err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}
	return jsonResponse(status, correlation, ErrorBody{
		Error:         string(code),
		Reason:        domain.ReasonOf(err),
		CorrelationID: correlation,
	})
}
