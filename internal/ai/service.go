package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devbrain/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/devbrain/internal/ai"

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
)

// Config tunes request pacing.
type Config struct {
	RequestsPerMinute int
	MaxRetries        int
	BaseBackoff       time.Duration
	Timeout           time.Duration
}

// Service implements Enricher over any Completer with rate limiting,
// retries and JSON decoding.
type Service struct {
	completer   Completer
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

var _ Enricher = (*Service)(nil)

// NewService wraps completer.
func NewService(completer Completer, cfg Config, logger *zap.Logger) (*Service, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}

	return &Service{
		completer:   completer,
		limiter:     rate.NewLimiter(limit, 1),
		maxRetries:  maxRetries,
		baseBackoff: backoff,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// New builds a Service for the configured provider. It returns
// ErrNotConfigured when the provider is "none" or no API key is set.
func New(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if cfg.Provider == "none" || !cfg.APIKey.IsSet() {
		return nil, ErrNotConfigured
	}

	var (
		completer Completer
		err       error
	)
	switch cfg.Provider {
	case "gemini":
		completer, err = NewGeminiCompleter(ctx, cfg.APIKey.Value(), cfg.Model)
	case "openai":
		completer, err = NewOpenAICompleter(cfg.APIKey.Value(), cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewService(completer, Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxRetries:        cfg.MaxRetries,
		Timeout:           cfg.Timeout.Duration(),
	}, logger)
}

// AnalyzeCodeQuality asks whether a saved file teaches something.
func (s *Service) AnalyzeCodeQuality(ctx context.Context, filename, content string) (CodeInsight, error) {
	var out CodeInsight
	if err := s.ask(ctx, "ai.analyze_code", codeQualityPrompt(filename, content), &out); err != nil {
		return CodeInsight{}, err
	}
	if out.HasWisdom && out.Title == "" {
		out.HasWisdom = false
	}
	return out, nil
}

// AnalyzeCommit asks whether a commit carries an insight worth recording.
func (s *Service) AnalyzeCommit(ctx context.Context, message, diff string) (CommitInsight, error) {
	var out CommitInsight
	if err := s.ask(ctx, "ai.analyze_commit", commitPrompt(message, diff), &out); err != nil {
		return CommitInsight{}, err
	}
	if out.IsWorthRecording && out.Title == "" {
		out.IsWorthRecording = false
	}
	return out, nil
}

// GenerateWisdom turns a failure and its fix into a structured explanation.
func (s *Service) GenerateWisdom(ctx context.Context, failureOutput, successDescription string) (Wisdom, error) {
	var out Wisdom
	if err := s.ask(ctx, "ai.generate_wisdom", wisdomPrompt(failureOutput, successDescription), &out); err != nil {
		return Wisdom{}, err
	}
	return out, nil
}

func (s *Service) ask(ctx context.Context, op, prompt string, dst any) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, op)
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return err
	}

	if err := decodeJSON(raw, dst); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid response")
		return err
	}
	span.SetAttributes(attribute.Int("response.bytes", len(raw)))
	return nil
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		raw, err := s.completer.Complete(ctx, prompt)
		if err == nil {
			if strings.TrimSpace(raw) == "" {
				return "", ErrEmptyResponse
			}
			return raw, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		s.logger.Debug("ai request failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeJSON tolerates markdown code fences around the payload.
func decodeJSON(raw string, dst any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(text), dst); err != nil {
		return fmt.Errorf("failed to parse ai response: %w", err)
	}
	return nil
}
