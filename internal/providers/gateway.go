package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"paperchat/internal/config"
)

type GatewayOptions struct {
	Concurrency       int
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	Cooldown          time.Duration
	EmbedBatch        int
	Dimension         int
}

func GatewayOptionsFromConfig(cfg config.Config) GatewayOptions {
	return GatewayOptions{
		Concurrency:       cfg.ProviderConcurrency,
		RequestsPerSecond: cfg.ProviderRPS,
		Timeout:           cfg.RequestTimeout,
		MaxRetries:        cfg.MaxRetries,
		Dimension:         cfg.EmbedDim,
	}
}

func (o GatewayOptions) withDefaults() GatewayOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Burst <= 0 {
		o.Burst = o.Concurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 15 * time.Minute
	}
	if o.EmbedBatch <= 0 {
		o.EmbedBatch = 64
	}
	return o
}

// Gateway is the only path to external model services. It bounds in-flight
// calls, applies a shared rate limit and a per-call timeout, retries
// rate-limited or transient failures with backoff and fails over between
// chat providers. Embedding calls always use the one configured embedder.
type Gateway struct {
	m       *Manager
	opts    GatewayOptions
	sem     chan struct{}
	limiter *rate.Limiter

	mu       sync.Mutex
	cooldown map[int]time.Time
}

func NewGateway(m *Manager, opts GatewayOptions) *Gateway {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Gateway{
		m:        m,
		opts:     opts,
		sem:      make(chan struct{}, opts.Concurrency),
		limiter:  rate.NewLimiter(limit, opts.Burst),
		cooldown: map[int]time.Time{},
	}
}

// ModelID names the embedding space: provider model plus dimension.
func (g *Gateway) ModelID() string {
	e, _ := g.m.Embedder()
	return e.EmbeddingModel() + "@" + strconv.Itoa(g.opts.Dimension)
}

func (g *Gateway) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	embedder, ref := g.m.Embedder()
	out := make([][]float32, len(inputs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	for start := 0; start < len(inputs); start += g.opts.EmbedBatch {
		start := start
		end := start + g.opts.EmbedBatch
		if end > len(inputs) {
			end = len(inputs)
		}
		eg.Go(func() error {
			return g.retry(ectx, func(cctx context.Context) error {
				vecs, _, err := embedder.Embed(cctx, EmbedRequest{
					Operation: "embed",
					Inputs:    inputs[start:end],
					Dimension: g.opts.Dimension,
				})
				if err != nil {
					return err
				}
				if len(vecs) != end-start {
					return fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), end-start)
				}
				copy(out[start:end], vecs)
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("embed via %s: %w: %w", ref.Raw, sentinel(ClassifyError(err)), err)
	}
	return out, nil
}

func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var lastErr error
	for _, i := range g.m.PreferredLLMOrder() {
		if g.coolingDown(i) {
			continue
		}
		provider, ref := g.m.LLMProviderByIndex(i)
		var (
			resp GenerateResponse
			info ProviderInfo
		)
		err := g.retry(ctx, func(cctx context.Context) error {
			var err error
			resp, info, err = provider.Generate(cctx, req)
			return err
		})
		if err == nil {
			return resp, info, nil
		}
		lastErr = fmt.Errorf("llm %s: %w", ref.Raw, err)
		if ctx.Err() != nil {
			break
		}
		if ClassifyError(err) == ErrorQuota {
			g.startCooldown(i)
		}
		log.Printf("[providers] op=%s provider=%s failed, trying next: %v", req.Operation, ref.Raw, err)
	}
	if lastErr == nil {
		lastErr = errors.New("no llm provider available")
	}
	return GenerateResponse{}, ProviderInfo{}, fmt.Errorf("%w: %w", sentinel(ClassifyError(lastErr)), lastErr)
}

func (g *Gateway) retry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := g.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !Retryable(ClassifyError(err)) || attempt >= g.opts.MaxRetries || ctx.Err() != nil {
			return err
		}
		wait := g.backoff(attempt)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}

func (g *Gateway) once(ctx context.Context, fn func(context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	return fn(cctx)
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.opts.BaseBackoff << attempt
	if d <= 0 || d > g.opts.MaxBackoff {
		d = g.opts.MaxBackoff
	}
	return d
}

func (g *Gateway) coolingDown(i int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldown[i]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(g.cooldown, i)
		return false
	}
	return true
}

func (g *Gateway) startCooldown(i int) {
	g.mu.Lock()
	g.cooldown[i] = time.Now().Add(g.opts.Cooldown)
	g.mu.Unlock()
}
