package natsalert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"flowops/internal/domain"
)

// DefaultSubjectPrefix roots every alert subject.
const DefaultSubjectPrefix = "flowops.alerts"

// conn is the subset of *nats.Conn used by Publisher.
type conn interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher mirrors operator alerts onto NATS subjects of the form
// <prefix>.<tenant>.<action>.
type Publisher struct {
	nc     conn
	prefix string
}

func New(nc conn, prefix string) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("natsalert: connection must not be nil")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("flowops"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsalert: connect %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject a notification is published on.
func (p *Publisher) Subject(n domain.Notification) string {
	return p.prefix + "." + token(n.TenantID) + "." + token(n.Action)
}

func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n.Body())
	if err != nil {
		return fmt.Errorf("natsalert: marshal message: %w", err)
	}
	msg := nats.NewMsg(p.Subject(n))
	msg.Data = data
	for k, v := range n.Attributes {
		msg.Header.Set(k, v)
	}
	if n.Subject != "" {
		msg.Header.Set("Subject", n.Subject)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsalert: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
