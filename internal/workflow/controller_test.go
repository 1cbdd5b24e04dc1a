package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/moodsense/internal/emotion"
	"github.com/Brownie44l1/moodsense/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task")
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func okProbe() Probe {
	return ProbeFunc(func(context.Context) error { return nil })
}

// gatedProvider blocks every call until release is closed.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	dist    []float64
	err     error
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		dist:    model.DefaultWeights,
	}
}

func (p *gatedProvider) Distribution(ctx context.Context, _ model.Input) ([]float64, error) {
	p.calls.Add(1)
	p.started <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.dist, p.err
}

type providerFunc func(ctx context.Context, in model.Input) ([]float64, error)

func (f providerFunc) Distribution(ctx context.Context, in model.Input) ([]float64, error) {
	return f(ctx, in)
}

func zeroJitter() model.ScoreProvider {
	return model.NewSimulated(model.WithJitter(func() float64 { return 0 }))
}

func newController(t *testing.T, cfg Config, deps Deps) *Controller {
	t.Helper()
	if deps.Probe == nil {
		deps.Probe = okProbe()
	}
	if deps.Provider == nil {
		deps.Provider = zeroJitter()
	}
	deps.Logger = quietLogger()
	c := New(cfg, deps)
	t.Cleanup(c.Close)
	return c
}

func readyController(t *testing.T, cfg Config, deps Deps) *Controller {
	t.Helper()
	c := newController(t, cfg, deps)
	done, started := c.Initialize()
	require.True(t, started)
	waitDone(t, done)
	require.Equal(t, Ready, c.ModelState())
	return c
}

func TestInitialize_FailThenRetry(t *testing.T) {
	var attempts atomic.Int32
	probe := ProbeFunc(func(context.Context) error {
		if attempts.Add(1) == 1 {
			return errors.New("404 Not Found")
		}
		return nil
	})

	c := newController(t, Config{}, Deps{Probe: probe})
	events, cancel := c.Subscribe()
	defer cancel()

	assert.Equal(t, Uninitialized, c.ModelState())

	done, started := c.Initialize()
	require.True(t, started)
	waitDone(t, done)

	assert.Equal(t, Failed, c.ModelState())
	assert.ErrorIs(t, c.LastError(), ErrModelUnavailable)
	assert.Contains(t, c.Snapshot().Error, "404 Not Found")

	var states []ModelState
	var sawError bool
	for _, evt := range drain(events) {
		switch evt.Type {
		case EventModelState:
			states = append(states, evt.ModelState)
		case EventError:
			sawError = true
		}
	}
	assert.Equal(t, []ModelState{Loading, Failed}, states)
	assert.True(t, sawError)

	done, started = c.Initialize()
	require.True(t, started)
	waitDone(t, done)
	assert.Equal(t, Ready, c.ModelState())
	assert.NoError(t, c.LastError())
	assert.EqualValues(t, 2, attempts.Load())
}

func TestInitialize_IgnoredWhileLoadingOrReady(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	probe := ProbeFunc(func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})

	c := newController(t, Config{}, Deps{Probe: probe})

	done, started := c.Initialize()
	require.True(t, started)
	assert.Equal(t, Loading, c.ModelState())

	again, started := c.Initialize()
	assert.False(t, started)
	waitDone(t, again)

	close(release)
	waitDone(t, done)
	assert.Equal(t, Ready, c.ModelState())

	_, started = c.Initialize()
	assert.False(t, started)
	assert.Equal(t, Ready, c.ModelState())
	assert.EqualValues(t, 1, calls.Load())
}

func TestInitialize_ProbeTimeout(t *testing.T) {
	stall := make(chan struct{})
	defer close(stall)
	probe := ProbeFunc(func(context.Context) error {
		<-stall // ignores ctx on purpose
		return nil
	})

	c := newController(t, Config{ProbeTimeout: 20 * time.Millisecond}, Deps{Probe: probe})
	done, _ := c.Initialize()
	waitDone(t, done)

	assert.Equal(t, Failed, c.ModelState())
	assert.ErrorIs(t, c.LastError(), ErrModelUnavailable)
	assert.ErrorIs(t, c.LastError(), context.DeadlineExceeded)
}

func TestInitialize_ProbePanic(t *testing.T) {
	probe := ProbeFunc(func(context.Context) error { panic("boom") })

	c := newController(t, Config{}, Deps{Probe: probe})
	done, _ := c.Initialize()
	waitDone(t, done)
	assert.Equal(t, Failed, c.ModelState())
}

func TestRequestAnalysis_NoOpWithoutPreconditions(t *testing.T) {
	t.Run("model uninitialized", func(t *testing.T) {
		provider := newGatedProvider()
		c := newController(t, Config{}, Deps{Provider: provider})
		_, err := c.UploadImage(pngBytes(t, 4, 4))
		require.NoError(t, err)

		before := c.Snapshot()
		done, started := c.RequestAnalysis()
		assert.False(t, started)
		waitDone(t, done)

		assert.Equal(t, before, c.Snapshot())
		assert.Equal(t, Idle, c.AnalysisState())
		_, ok := c.Result()
		assert.False(t, ok)
		assert.NoError(t, c.LastError())
		assert.Zero(t, provider.calls.Load())
	})

	t.Run("no image", func(t *testing.T) {
		provider := newGatedProvider()
		c := readyController(t, Config{}, Deps{Provider: provider})

		_, started := c.RequestAnalysis()
		assert.False(t, started)
		assert.Equal(t, Idle, c.AnalysisState())
		assert.Zero(t, provider.calls.Load())
	})

	t.Run("already analyzing", func(t *testing.T) {
		provider := newGatedProvider()
		c := readyController(t, Config{}, Deps{Provider: provider})
		_, err := c.UploadImage(pngBytes(t, 4, 4))
		require.NoError(t, err)

		done, started := c.RequestAnalysis()
		require.True(t, started)
		<-provider.started
		assert.Equal(t, Analyzing, c.AnalysisState())

		for range 5 {
			_, again := c.RequestAnalysis()
			assert.False(t, again)
		}

		close(provider.release)
		waitDone(t, done)
		assert.EqualValues(t, 1, provider.calls.Load())
		assert.Equal(t, Idle, c.AnalysisState())
	})
}

func TestRequestAnalysis_PublishesResult(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	c := readyController(t, Config{}, Deps{Now: func() time.Time { return now }})

	asset, err := c.UploadImage(pngBytes(t, 8, 6))
	require.NoError(t, err)
	assert.Equal(t, "png", asset.Format)
	assert.Equal(t, 8, asset.Width)
	assert.Equal(t, 6, asset.Height)

	events, cancel := c.Subscribe()
	defer cancel()

	done, started := c.RequestAnalysis()
	require.True(t, started)
	waitDone(t, done)

	got, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, emotion.Happy, got.PrimaryEmotion)
	assert.Equal(t, 35.0, got.PrimaryConfidence)
	assert.Equal(t, emotion.Neutral, got.RankedScores[1].Category)
	assert.Equal(t, 20.0, got.RankedScores[1].Confidence)
	assert.Equal(t, emotion.Sad, got.RankedScores[2].Category)
	assert.Equal(t, 15.0, got.RankedScores[2].Confidence)
	assert.Equal(t, asset.ID, got.ImageID)
	assert.Equal(t, now, got.CreatedAt)
	assert.Len(t, got.Tips, 3)
	assert.Equal(t, Idle, c.AnalysisState())

	var types []EventType
	for _, evt := range drain(events) {
		types = append(types, evt.Type)
		if evt.Type == EventResult {
			assert.Equal(t, Idle, evt.AnalysisState, "result event carries the settled state")
			require.NotNil(t, evt.Result)
		}
	}
	assert.Equal(t, []EventType{EventAnalysisState, EventAnalysisState, EventResult}, types)

	snap := c.Snapshot()
	require.NotNil(t, snap.Result)
	require.NotNil(t, snap.Image)
	assert.Equal(t, asset.ID, snap.Image.ID)
}

func TestRequestAnalysis_DiscardsStaleResult(t *testing.T) {
	provider := newGatedProvider()
	c := readyController(t, Config{}, Deps{Provider: provider})

	_, err := c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)

	done, started := c.RequestAnalysis()
	require.True(t, started)
	<-provider.started

	b, err := c.UploadImage(pngBytes(t, 5, 5))
	require.NoError(t, err)

	events, cancel := c.Subscribe()
	defer cancel()

	close(provider.release)
	waitDone(t, done)

	_, ok := c.Result()
	assert.False(t, ok, "stale result must not be published")
	current, ok := c.Image()
	require.True(t, ok)
	assert.Equal(t, b.ID, current.ID)
	assert.Equal(t, Idle, c.AnalysisState())

	var sawStale bool
	for _, evt := range drain(events) {
		assert.NotEqual(t, EventResult, evt.Type)
		if evt.Type == EventStale {
			sawStale = true
		}
	}
	assert.True(t, sawStale)

	// The new image can now be analyzed.
	provider2 := newGatedProvider()
	close(provider2.release)
	c.provider = provider2
	done, started = c.RequestAnalysis()
	require.True(t, started)
	waitDone(t, done)
	got, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, b.ID, got.ImageID)
}

func TestUploadImage_ClearsResult(t *testing.T) {
	c := readyController(t, Config{}, Deps{})

	_, err := c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)
	done, _ := c.RequestAnalysis()
	waitDone(t, done)
	_, ok := c.Result()
	require.True(t, ok)

	_, err = c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)
	_, ok = c.Result()
	assert.False(t, ok)
}

func TestUploadImage_FailedUploadPolicy(t *testing.T) {
	tests := []struct {
		name       string
		policy     FailedUploadPolicy
		wantImage  bool
		wantResult bool
	}{
		{"default retains", "", true, true},
		{"retain", RetainOnFailedUpload, true, true},
		{"clear", ClearOnFailedUpload, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := readyController(t, Config{FailedUpload: tt.policy}, Deps{})
			asset, err := c.UploadImage(pngBytes(t, 4, 4))
			require.NoError(t, err)
			done, _ := c.RequestAnalysis()
			waitDone(t, done)

			_, err = c.UploadImage([]byte("definitely not an image"))
			require.ErrorIs(t, err, ErrInvalidImage)

			img, ok := c.Image()
			assert.Equal(t, tt.wantImage, ok)
			if ok {
				assert.Equal(t, asset.ID, img.ID)
			}
			_, ok = c.Result()
			assert.Equal(t, tt.wantResult, ok)
			assert.Equal(t, Ready, c.ModelState())
		})
	}
}

func TestUploadImage_Invalid(t *testing.T) {
	c := newController(t, Config{MaxImageBytes: 64, MaxImagePixels: 1 << 20}, Deps{})

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"garbage", []byte("GIF89a but not really")},
		{"too large", pngBytes(t, 32, 32)},
		{"huge canvas", pngHeader(50000, 50000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.UploadImage(tt.content)
			assert.ErrorIs(t, err, ErrInvalidImage)
			_, ok := c.Image()
			assert.False(t, ok)
		})
	}
}

func TestRequestAnalysis_ProviderFailure(t *testing.T) {
	tests := []struct {
		name       string
		clear      bool
		wantResult bool
	}{
		{"retains previous result", false, true},
		{"clears previous result", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fail atomic.Bool
			provider := providerFunc(func(ctx context.Context, in model.Input) ([]float64, error) {
				if fail.Load() {
					return model.NewSimulated().Simulate([]float64{0, 0, 0, 0, 0, 0, 0})
				}
				return zeroJitter().Distribution(ctx, in)
			})

			c := readyController(t, Config{ClearResultOnFailure: tt.clear}, Deps{Provider: provider})
			_, err := c.UploadImage(pngBytes(t, 4, 4))
			require.NoError(t, err)
			done, _ := c.RequestAnalysis()
			waitDone(t, done)
			_, ok := c.Result()
			require.True(t, ok)

			events, cancel := c.Subscribe()
			defer cancel()

			fail.Store(true)
			done, started := c.RequestAnalysis()
			require.True(t, started)
			waitDone(t, done)

			var sawError bool
			for _, evt := range drain(events) {
				if evt.Type == EventError || evt.Type == EventResult {
					assert.Equal(t, Idle, evt.AnalysisState, "%s event", evt.Type)
				}
				if evt.Type == EventError {
					sawError = true
					assert.NotEmpty(t, evt.Error)
				}
			}
			assert.True(t, sawError)

			assert.Equal(t, Idle, c.AnalysisState())
			assert.ErrorIs(t, c.LastError(), model.ErrInvalidWeights)
			_, ok = c.Result()
			assert.Equal(t, tt.wantResult, ok)
		})
	}
}

func TestRequestAnalysis_ProviderPanic(t *testing.T) {
	provider := providerFunc(func(context.Context, model.Input) ([]float64, error) {
		panic("kaboom")
	})

	c := readyController(t, Config{}, Deps{Provider: provider})
	_, err := c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)

	done, started := c.RequestAnalysis()
	require.True(t, started)
	waitDone(t, done)

	assert.Equal(t, Idle, c.AnalysisState())
	require.Error(t, c.LastError())
	assert.Contains(t, c.LastError().Error(), "kaboom")

	// The controller stays usable.
	_, started = c.RequestAnalysis()
	assert.True(t, started)
}

func TestRequestAnalysis_PassesImageToProvider(t *testing.T) {
	var got model.Input
	provider := providerFunc(func(_ context.Context, in model.Input) ([]float64, error) {
		got = in
		return model.DefaultWeights, nil
	})

	weights := []float64{1, 1, 1, 1, 1, 1, 1}
	c := readyController(t, Config{Weights: weights}, Deps{Provider: provider})
	_, err := c.UploadImage(pngBytes(t, 3, 2))
	require.NoError(t, err)
	done, _ := c.RequestAnalysis()
	waitDone(t, done)

	require.NotNil(t, got.Image)
	assert.Equal(t, 3, got.Image.Bounds().Dx())
	assert.Equal(t, weights, got.Weights)
}

func TestClose_CancelsAnalysisAndSubscriptions(t *testing.T) {
	provider := newGatedProvider()
	c := New(Config{}, Deps{Provider: provider, Probe: okProbe(), Logger: quietLogger()})

	done, _ := c.Initialize()
	waitDone(t, done)
	_, err := c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)

	events, _ := c.Subscribe()
	done, started := c.RequestAnalysis()
	require.True(t, started)
	<-provider.started

	c.Close()
	waitDone(t, done)
	assert.Equal(t, Idle, c.AnalysisState())

	drain(events)
	_, open := <-events
	assert.False(t, open)

	_, started = c.RequestAnalysis()
	assert.False(t, started)
	_, started = c.Initialize()
	assert.False(t, started)

	// Subscribing after close yields a closed channel.
	late, _ := c.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestAnalysisDelay(t *testing.T) {
	c := readyController(t, Config{AnalysisDelay: 30 * time.Millisecond}, Deps{})
	_, err := c.UploadImage(pngBytes(t, 4, 4))
	require.NoError(t, err)

	start := time.Now()
	done, _ := c.RequestAnalysis()
	assert.Equal(t, Analyzing, c.AnalysisState())
	waitDone(t, done)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "analyzing", Analyzing.String())

	b, err := Ready.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(b))
}
