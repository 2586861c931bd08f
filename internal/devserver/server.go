package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowops/handler"
	"flowops/internal/domain"
)

// maxBody caps request bodies; API Gateway allows 10 MB.
const maxBody = 10 << 20

type Tickets interface {
	Get(ctx context.Context, tenantID, ticketID string) (domain.Ticket, error)
	ListByStatus(ctx context.Context, tenantID string, status domain.TicketStatus) ([]domain.Ticket, error)
	ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.Ticket, error)
	Transition(ctx context.Context, tenantID, ticketID string, to domain.TicketStatus) (domain.Ticket, error)
}

type Conversations interface {
	Get(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, tenantID, ticketID string) (domain.Ticket, error)
}

// LambdaHandler is an API Gateway proxy handler such as handler.Actions.
type LambdaHandler interface {
	Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

type Deps struct {
	Actions       LambdaHandler
	Agent         LambdaHandler
	Tickets       Tickets
	Conversations Conversations
	Summaries     Summarizer
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

type Options struct {
	Addr           string
	Secret         []byte
	AllowedOrigins []string
}

// Server exposes both Lambda handlers and read endpoints over plain HTTP,
// authenticating with HS256 bearer tokens in place of Cognito.
type Server struct {
	deps   Deps
	opts   Options
	secret []byte
	logger *slog.Logger
	router chi.Router
}

func New(opts Options, deps Deps) (*Server, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("devserver: jwt secret must not be empty")
	}
	if deps.Actions == nil || deps.Agent == nil {
		return nil, errors.New("devserver: lambda handlers must not be nil")
	}
	if deps.Tickets == nil || deps.Conversations == nil || deps.Summaries == nil {
		return nil, errors.New("devserver: services must not be nil")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, opts: opts, secret: opts.Secret, logger: deps.Logger}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Correlation-Id"},
		ExposedHeaders: []string{"X-Correlation-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/actions", s.proxy(s.deps.Actions))
		r.Post("/agent/invoke", s.proxy(s.deps.Agent))
		r.Get("/tickets", s.listTickets)
		r.Get("/tickets/{ticketID}", s.getTicket)
		r.Post("/tickets/{ticketID}/transition", s.transitionTicket)
		r.Post("/tickets/{ticketID}/summary", s.summarizeTicket)
		r.Get("/conversations/{conversationID}", s.getConversation)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// proxy turns the HTTP request into the event API Gateway would deliver,
// with the token's claims in the authorizer context.
func (s *Server) proxy(h LambdaHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "BODY_TOO_LARGE"})
			return
		}
		claims := claimsFrom(r.Context())
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		event := events.APIGatewayProxyRequest{
			HTTPMethod: r.Method,
			Path:       r.URL.Path,
			Headers:    headers,
			Body:       string(body),
			RequestContext: events.APIGatewayProxyRequestContext{
				RequestID: middleware.GetReqID(r.Context()),
				Authorizer: map[string]any{
					"claims": map[string]any{
						"custom:tenant_id": claims.TenantID,
						"sub":              claims.Subject,
					},
				},
			},
		}
		resp, err := h.Handle(r.Context(), event)
		if err != nil {
			s.logger.Error("handler failed", "path", r.URL.Path, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(domain.ErrorInternal)})
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	}
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	tenant := claimsFrom(r.Context()).TenantID
	q := r.URL.Query()

	var (
		out []domain.Ticket
		err error
	)
	switch {
	case q.Get("since") != "":
		since, perr := time.Parse(time.RFC3339, q.Get("since"))
		if perr != nil {
			s.fail(w, r, domain.NewError(domain.ErrorInvalidPayload, "invalid_since", perr))
			return
		}
		out, err = s.deps.Tickets.ListUpdatedSince(r.Context(), tenant, since)
	default:
		status := domain.TicketStatus(q.Get("status"))
		if status == "" {
			status = domain.StatusOpen
		}
		if !status.Valid() {
			s.fail(w, r, domain.NewError(domain.ErrorInvalidPayload, "invalid_status", nil))
			return
		}
		out, err = s.deps.Tickets.ListByStatus(r.Context(), tenant, status)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		out = []domain.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": out})
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tickets.Get(r.Context(), claimsFrom(r.Context()).TenantID, chi.URLParam(r, "ticketID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) transitionTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.TicketStatus `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		s.fail(w, r, domain.NewError(domain.ErrorInvalidPayload, "malformed_body", err))
		return
	}
	t, err := s.deps.Tickets.Transition(r.Context(), claimsFrom(r.Context()).TenantID, chi.URLParam(r, "ticketID"), body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) summarizeTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Summaries.Summarize(r.Context(), claimsFrom(r.Context()).TenantID, chi.URLParam(r, "ticketID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Conversations.Get(r.Context(), claimsFrom(r.Context()).TenantID, chi.URLParam(r, "conversationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := handler.StatusFor(code)
	reqID := middleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", reqID, "code", code, "err", err)
	}
	writeJSON(w, status, handler.ErrorBody{Error: string(code), Reason: domain.ReasonOf(err), CorrelationID: reqID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
