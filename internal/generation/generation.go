package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/metrics"
)

// Client submits one instruction with optional images and returns the model's
// text. Implementations make exactly one attempt per call.
type Client interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// Connector builds a Client from a credential supplied by the user. A blank
// credential must fail with domain.ErrAuth.
type Connector interface {
	Connect(ctx context.Context, credential string) (Client, error)
	Name() string
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req domain.GenerationRequest) (string, error)

func (f ClientFunc) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return f(ctx, req)
}

// RequireCredential returns the trimmed credential or an ErrAuth error when it
// is blank.
func RequireCredential(backend, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", goerr.Wrap(domain.ErrAuth, "credential is required", goerr.V("backend", backend))
	}
	return credential, nil
}

// WithTimeout bounds every Generate call by d. A zero d returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return ClientFunc(func(ctx context.Context, req domain.GenerationRequest) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Generate(ctx, req)
	})
}

// Instrument records call counts and latency for backend and logs each call at
// debug level.
func Instrument(c Client, backend string, logger *slog.Logger) Client {
	return ClientFunc(func(ctx context.Context, req domain.GenerationRequest) (string, error) {
		start := time.Now()
		text, err := c.Generate(ctx, req)
		elapsed := time.Since(start)

		metrics.GenerationDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
		metrics.GenerationCallsTotal.WithLabelValues(backend, status(err)).Inc()
		logger.Debug("generation call",
			"backend", backend,
			"images", len(req.Images),
			"instruction_bytes", len(req.Instruction),
			"response_bytes", len(text),
			"duration_ms", elapsed.Milliseconds(),
			logging.ErrAttr(err),
		)
		return text, err
	})
}

// Decorate wraps a connector so every client it produces is bounded by timeout
// and instrumented.
func Decorate(conn Connector, timeout time.Duration, logger *slog.Logger) Connector {
	return &decorated{Connector: conn, timeout: timeout, logger: logger}
}

type decorated struct {
	Connector
	timeout time.Duration
	logger  *slog.Logger
}

func (d *decorated) Connect(ctx context.Context, credential string) (Client, error) {
	c, err := d.Connector.Connect(ctx, credential)
	if err != nil {
		return nil, err
	}
	return Instrument(WithTimeout(c, d.timeout), d.Connector.Name(), d.logger), nil
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAuth):
		return "auth_error"
	default:
		return "upstream_error"
	}
}
