package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/imagestore"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/metrics"
	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testCatalog() *storage.Catalog {
	var ms []models.Model
	for _, m := range config.DefaultModels() {
		ms = append(ms, models.Model{ID: m.ID, Name: m.Name, ModelID: m.ModelID, CreditCost: m.CreditCost})
	}
	var ss []models.Style
	for _, s := range config.DefaultStyles() {
		ss = append(ss, models.Style{ID: s.ID, Name: s.Name, PromptModifier: s.PromptModifier})
	}
	return storage.NewCatalog(ms, ss)
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]int
	refunds  int
	reserves int
	failRes  error
}

func newFakeLedger(userID int64, balance int) *fakeLedger {
	return &fakeLedger{balances: map[int64]int{userID: balance}}
}

func (l *fakeLedger) DecrementIfAtLeast(_ context.Context, userID int64, amount int, _ string) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failRes != nil {
		return 0, false, l.failRes
	}
	b, ok := l.balances[userID]
	if !ok {
		return 0, false, storage.ErrNotFound
	}
	if b < amount {
		return b, false, nil
	}
	l.reserves++
	l.balances[userID] = b - amount
	return b - amount, true, nil
}

func (l *fakeLedger) Refund(_ context.Context, userID int64, amount int, _ string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds++
	l.balances[userID] += amount
	return l.balances[userID], nil
}

func (l *fakeLedger) balance(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type fakeGateway struct {
	mu      sync.Mutex
	prompts []string
	err     error
	block   bool
}

func (g *fakeGateway) Generate(ctx context.Context, prompt, modelID string) (inference.Image, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return inference.Image{}, ctx.Err()
	}
	if g.err != nil {
		return inference.Image{}, g.err
	}
	return inference.Image{Data: pngBytes, ContentType: "image/png"}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []models.Image
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, userID int64, imageURL, prompt string, modelID int64, styleID *int64, isPublic bool) (models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return models.Image{}, r.err
	}
	e := models.Image{
		ID: int64(len(r.entries) + 1), UserID: userID, ImageURL: imageURL, Prompt: prompt,
		ModelID: modelID, StyleID: styleID, IsPublic: isPublic, CreatedAt: time.Now(),
	}
	r.entries = append(r.entries, e)
	return e, nil
}

type failingStore struct{}

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", errors.New("disk full")
}

type harness struct {
	ledger   *fakeLedger
	gateway  *fakeGateway
	recorder *fakeRecorder
	logs     *observer.ObservedLogs
	coord    *Coordinator
}

func newHarness(balance int, images imagestore.Store) *harness {
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		ledger:   newFakeLedger(1, balance),
		gateway:  &fakeGateway{},
		recorder: &fakeRecorder{},
		logs:     logs,
	}
	if images == nil {
		images = imagestore.DataURI{}
	}
	h.coord = NewCoordinator(testCatalog(), h.ledger, h.gateway, images, h.recorder, time.Second, zap.New(core))
	return h
}

func int64p(v int64) *int64 { return &v }

func TestGenerateAppliesStyle(t *testing.T) {
	h := newHarness(10, nil)

	res, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "a cat", ModelID: 2, StyleID: int64p(3), IsPublic: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"a cat, fantasy style"}, h.gateway.prompts)
	assert.Equal(t, 8, res.Balance)
	assert.Equal(t, 8, h.ledger.balance(1))
	assert.True(t, res.StyleApplied)
	require.Len(t, h.recorder.entries, 1)
	entry := h.recorder.entries[0]
	assert.Equal(t, "a cat", entry.Prompt)
	assert.Equal(t, int64(2), entry.ModelID)
	require.NotNil(t, entry.StyleID)
	assert.Equal(t, int64(3), *entry.StyleID)
	assert.True(t, strings.HasPrefix(res.ImageURL, "data:image/png;base64,"))
	assert.Equal(t, res.ImageURL, entry.ImageURL)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	h := newHarness(1, nil)

	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "a dog", ModelID: 3})
	var insufficient *InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 4, insufficient.Required)
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 1, h.ledger.balance(1))
	assert.Zero(t, h.gateway.calls())
	assert.Empty(t, h.recorder.entries)
}

func TestGenerateInferenceFailureRefunds(t *testing.T) {
	h := newHarness(5, nil)
	h.gateway.err = &inference.Error{Reason: inference.ReasonQuotaExceeded}

	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 1})
	var failed *GenerationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "quota exceeded", failed.Reason)
	assert.Equal(t, 5, h.ledger.balance(1))
	assert.Equal(t, 1, h.ledger.refunds)
	assert.Empty(t, h.recorder.entries)

	// replaying after the upstream recovers leaves no residue from the failed attempt
	h.gateway.err = nil
	res, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Balance)
	assert.Len(t, h.recorder.entries, 1)
}

func TestGenerateTimeoutIsDetachedFromCaller(t *testing.T) {
	h := newHarness(5, nil)
	h.gateway.block = true
	h.coord.timeout = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.coord.Generate(ctx, 1, Request{Prompt: "x", ModelID: 1})
	var failed *GenerationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, inference.ReasonTimeout, failed.Reason)
	assert.Equal(t, 5, h.ledger.balance(1))
}

func TestGenerateUnknownModelSkipsLedger(t *testing.T) {
	h := newHarness(5, nil)
	h.ledger.failRes = errors.New("ledger must not be touched")

	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 42})
	var unknown *UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, int64(42), unknown.ModelID)
	assert.Zero(t, h.ledger.reserves)
}

type brokenCatalog struct{ *storage.Catalog }

func (brokenCatalog) GetModel(context.Context, int64) (models.Model, error) {
	return models.Model{}, errors.New("database is locked")
}

func generationCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "dreamforge_generation_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestGenerateCatalogFailureIsNotUnknownModel(t *testing.T) {
	h := newHarness(5, nil)
	h.ledger.failRes = errors.New("ledger must not be touched")
	h.coord.catalog = brokenCatalog{testCatalog()}
	failedBefore := generationCount(t, metrics.OutcomeCatalogFailure)
	unknownBefore := generationCount(t, metrics.OutcomeUnknownModel)

	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	var unknown *UnknownModelError
	assert.False(t, errors.As(err, &unknown))
	assert.Zero(t, h.ledger.reserves)

	assert.Equal(t, failedBefore+1, generationCount(t, metrics.OutcomeCatalogFailure))
	assert.Equal(t, unknownBefore, generationCount(t, metrics.OutcomeUnknownModel))
}

func TestGenerateValidation(t *testing.T) {
	h := newHarness(5, nil)
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty prompt", Request{Prompt: "", ModelID: 1}, "prompt"},
		{"blank prompt", Request{Prompt: "   \t", ModelID: 1}, "prompt"},
		{"long prompt", Request{Prompt: strings.Repeat("a", MaxPromptLength+1), ModelID: 1}, "prompt"},
		{"missing model", Request{Prompt: "x"}, "modelId"},
		{"negative model", Request{Prompt: "x", ModelID: -1}, "modelId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.coord.Generate(context.Background(), 1, tt.req)
			var invalid *ValidationError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
	assert.Zero(t, h.ledger.reserves)

	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: strings.Repeat("猫", MaxPromptLength), ModelID: 1})
	assert.NoError(t, err)
}

func TestGenerateUserNotFound(t *testing.T) {
	h := newHarness(5, nil)

	_, err := h.coord.Generate(context.Background(), 99, Request{Prompt: "x", ModelID: 1})
	var notFound *UserNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Zero(t, h.gateway.calls())
}

func TestGenerateStyleMissDegrades(t *testing.T) {
	h := newHarness(5, nil)

	res, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "a cat", ModelID: 1, StyleID: int64p(77)})
	require.NoError(t, err)
	assert.False(t, res.StyleApplied)
	assert.Equal(t, []string{"a cat"}, h.gateway.prompts)
	require.Len(t, h.recorder.entries, 1)
	assert.Nil(t, h.recorder.entries[0].StyleID)

	misses := h.logs.FilterMessage("Style not resolved, generating without it").All()
	require.Len(t, misses, 1)
	assert.Equal(t, zapcore.WarnLevel, misses[0].Level)
}

func TestGeneratePersistenceFailureRefunds(t *testing.T) {
	h := newHarness(5, failingStore{})
	_, err := h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 2})
	var persistence *PersistenceError
	require.True(t, errors.As(err, &persistence))
	assert.Equal(t, 5, h.ledger.balance(1))

	h = newHarness(5, nil)
	h.recorder.err = errors.New("database is locked")
	_, err = h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 2})
	require.True(t, errors.As(err, &persistence))
	assert.Equal(t, 5, h.ledger.balance(1))
	assert.Equal(t, 1, h.ledger.refunds)
}

func TestGenerateConcurrentDoubleSpend(t *testing.T) {
	h := newHarness(2, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.Generate(context.Background(), 1, Request{Prompt: "x", ModelID: 2})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		var ie *InsufficientCreditsError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &ie):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 0, h.ledger.balance(1))
	assert.Len(t, h.recorder.entries, 1)
}

func TestStylePrompt(t *testing.T) {
	assert.Equal(t, "a cat, fantasy style", StylePrompt("a cat", models.Style{Name: "Fantasy"}))
	assert.Equal(t, "a cat, 3d render style", StylePrompt("a cat", models.Style{Name: "3D Render"}))
	assert.Equal(t, "a cat, oil on canvas", StylePrompt("a cat", models.Style{Name: "Oil", PromptModifier: " oil on canvas "}))
}
