package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport - внешний сервис генерации (HTTP бэкенд или RPC через RabbitMQ).
type Transport interface {
	GenerateTitle(ctx context.Context, qas []domain.QA) (string, error)
	ExtractActivities(ctx context.Context, text string, keywords []domain.Keyword) ([]domain.ActivityCandidate, error)
}

// KeywordSource возвращает таксономию ключевых слов.
type KeywordSource interface {
	FetchKeywords(ctx context.Context) ([]domain.Keyword, error)
}

// Config - таймауты шлюза.
type Config struct {
	TitleTimeout      time.Duration
	ExtractionTimeout time.Duration
	KeywordTimeout    time.Duration
}

// Gateway - единственная точка обращения к генерации.
// Для одной сессии одновременно выполняется не более одного запроса.
type Gateway struct {
	transport Transport
	keywords  KeywordSource
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// New создает шлюз генерации.
func New(transport Transport, keywords KeywordSource, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 30 * time.Second
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 5 * time.Minute
	}
	if cfg.KeywordTimeout <= 0 {
		cfg.KeywordTimeout = 10 * time.Second
	}
	return &Gateway{
		transport: transport,
		keywords:  keywords,
		cfg:       cfg,
		logger:    logger.Named("GenerationGateway"),
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

// Generate выполняет запрос генерации. Если для сессии уже выполняется запрос,
// сразу возвращает domain.ErrGenerationInProgress.
func (g *Gateway) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	log := g.logger.With(zap.Stringer("sessionID", req.SessionID), zap.String("kind", string(req.Kind)))

	if !g.acquire(req.SessionID) {
		log.Warn("Generation already in flight, rejecting duplicate request")
		metrics.ObserveGeneration(string(req.Kind), metrics.StatusBusy, 0)
		return domain.GenerationResult{}, domain.ErrGenerationInProgress
	}
	defer g.release(req.SessionID)

	start := time.Now()
	var (
		result domain.GenerationResult
		err    error
	)
	switch req.Kind {
	case domain.ResultTitle:
		result, err = g.generateTitle(ctx, req)
	case domain.ResultActivities:
		result, err = g.extractActivities(ctx, req)
	default:
		return domain.GenerationResult{}, fmt.Errorf("unknown result kind %q: %w", req.Kind, domain.ErrInvalidInput)
	}
	took := time.Since(start)

	if err != nil {
		err = normalize(err)
		status := metrics.StatusError
		if errors.Is(err, domain.ErrGenerationTimeout) {
			status = metrics.StatusTimeout
		}
		metrics.ObserveGeneration(string(req.Kind), status, took)
		log.Error("Generation failed", zap.Duration("took", took), zap.Error(err))
		return domain.GenerationResult{}, err
	}

	metrics.ObserveGeneration(string(req.Kind), metrics.StatusSuccess, took)
	log.Info("Generation completed", zap.Duration("took", took))
	return result, nil
}

// InFlight сообщает, есть ли незавершенный запрос для сессии.
func (g *Gateway) InFlight(sessionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[sessionID]
	return ok
}

func (g *Gateway) acquire(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[id]; busy {
		return false
	}
	g.inFlight[id] = struct{}{}
	return true
}

func (g *Gateway) release(id uuid.UUID) {
	g.mu.Lock()
	delete(g.inFlight, id)
	g.mu.Unlock()
}

func (g *Gateway) generateTitle(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.TitleTimeout)
	defer cancel()

	title, err := g.transport.GenerateTitle(ctx, req.QAs)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	return domain.NewTitleResult(strings.TrimSpace(title)), nil
}

func (g *Gateway) extractActivities(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	keywords := req.Keywords
	if keywords == nil {
		kwCtx, cancel := context.WithTimeout(ctx, g.cfg.KeywordTimeout)
		fetched, err := g.keywords.FetchKeywords(kwCtx)
		cancel()
		if err != nil {
			return domain.GenerationResult{}, fmt.Errorf("fetch keywords: %w", err)
		}
		keywords = fetched
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.ExtractionTimeout)
	defer cancel()

	candidates, err := g.transport.ExtractActivities(ctx, req.Text, keywords)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	out := make([]domain.ActivityCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = c.Clone()
		out[i].Keywords = dedupKeywords(c.Keywords)
	}
	return domain.NewActivitiesResult(out), nil
}

// normalize сводит ошибки транспорта к двум видам: таймаут и прочие сбои.
func normalize(err error) error {
	switch {
	case errors.Is(err, domain.ErrGenerationTimeout), errors.Is(err, domain.ErrGenerationTransport),
		errors.Is(err, domain.ErrInvalidInput):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrGenerationTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrGenerationTransport, err)
	}
}

func dedupKeywords(in []domain.Keyword) []domain.Keyword {
	out := make([]domain.Keyword, 0, len(in))
	seen := make(map[int64]struct{}, len(in))
	for _, k := range in {
		if _, dup := seen[k.ID]; dup {
			continue
		}
		seen[k.ID] = struct{}{}
		out = append(out, k)
	}
	return out
}
