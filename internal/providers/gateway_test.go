package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperchat/internal/util"
)

type scriptedLLM struct {
	mu    sync.Mutex
	errs  []error
	calls int
	text  string
}

func (s *scriptedLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return GenerateResponse{}, ProviderInfo{Name: "scripted"}, err
	}
	return GenerateResponse{Text: s.text}, ProviderInfo{Name: "scripted"}, nil
}

type blockingLLM struct{}

func (blockingLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	<-ctx.Done()
	return GenerateResponse{}, ProviderInfo{}, ctx.Err()
}

func fastOpts() GatewayOptions {
	return GatewayOptions{Concurrency: 2, Timeout: time.Second, MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Dimension: 32}
}

func TestGatewayRetriesTransient(t *testing.T) {
	llm := &scriptedLLM{errs: []error{&StatusError{Provider: "x", Code: 503}, errors.New("rate limit hit")}, text: "ok"}
	g := NewGateway(NewStaticManager(NewMockProvider(32), NamedLLMProvider{Ref: ProviderRef{Raw: "x", Name: "x"}, Provider: llm}), fastOpts())

	resp, _, err := g.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, 3, llm.calls)
}

func TestGatewayFailsOverOnQuota(t *testing.T) {
	first := &scriptedLLM{errs: []error{errors.New("insufficient_quota")}}
	second := &scriptedLLM{text: "from second"}
	g := NewGateway(NewStaticManager(NewMockProvider(32),
		NamedLLMProvider{Ref: ProviderRef{Raw: "a", Name: "a"}, Provider: first},
		NamedLLMProvider{Ref: ProviderRef{Raw: "b", Name: "b"}, Provider: second},
	), fastOpts())

	resp, _, err := g.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "from second", resp.Text)
	require.Equal(t, 1, first.calls)

	// the quota-exhausted provider is skipped while cooling down
	_, _, err = g.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, 1, first.calls)
}

func TestGatewayTimeoutSurfacesTransient(t *testing.T) {
	opts := fastOpts()
	opts.Timeout = 10 * time.Millisecond
	opts.MaxRetries = 1
	g := NewGateway(NewStaticManager(NewMockProvider(32), NamedLLMProvider{Ref: ProviderRef{Raw: "slow", Name: "slow"}, Provider: blockingLLM{}}), opts)

	_, _, err := g.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	require.ErrorIs(t, err, util.ErrTransient)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingEmbedder struct {
	*MockProvider
	active, peak int32
}

func (c *countingEmbedder) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	n := atomic.AddInt32(&c.active, 1)
	defer atomic.AddInt32(&c.active, -1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return c.MockProvider.Embed(ctx, req)
}

func TestGatewayEmbedBatchesWithBoundedConcurrency(t *testing.T) {
	emb := &countingEmbedder{MockProvider: NewMockProvider(32)}
	opts := fastOpts()
	opts.EmbedBatch = 3
	g := NewGateway(NewStaticManager(emb), opts)

	inputs := make([]string, 20)
	for i := range inputs {
		inputs[i] = "chunk text"
	}
	vecs, err := g.Embed(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, vecs, 20)
	for _, v := range vecs {
		require.Len(t, v, 32)
	}
	require.LessOrEqual(t, emb.peak, int32(2))
	require.Equal(t, "mock/bow-32@32", g.ModelID())
}
