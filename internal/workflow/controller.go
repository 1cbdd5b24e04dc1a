// Package workflow owns the model-readiness and analysis lifecycle of one
// user session and orchestrates the score provider and result formatter.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Brownie44l1/moodsense/internal/emotion"
	"github.com/Brownie44l1/moodsense/internal/model"
	"github.com/Brownie44l1/moodsense/internal/result"
	"github.com/Brownie44l1/moodsense/internal/tips"
)

// ErrModelUnavailable is recorded when the readiness probe fails.
var ErrModelUnavailable = errors.New("model unavailable")

// FailedUploadPolicy decides what a rejected upload does to the current
// image and result.
type FailedUploadPolicy string

const (
	// RetainOnFailedUpload keeps the previous image and result.
	RetainOnFailedUpload FailedUploadPolicy = "retain"
	// ClearOnFailedUpload drops both.
	ClearOnFailedUpload FailedUploadPolicy = "clear"
)

// Config tunes a Controller.
type Config struct {
	// Weights are the base weights handed to the provider, in emotion.All() order.
	Weights []float64
	// AnalysisDelay is the simulated processing time before scoring.
	AnalysisDelay time.Duration
	// ProbeTimeout bounds the readiness probe. Zero waits forever.
	ProbeTimeout time.Duration
	// MaxImageBytes rejects larger uploads. Zero disables the limit.
	MaxImageBytes int64
	// MaxImagePixels rejects images whose width times height is larger.
	// Zero disables the limit.
	MaxImagePixels int64
	FailedUpload  FailedUploadPolicy
	// ClearResultOnFailure drops the previous result when an analysis fails.
	ClearResultOnFailure bool
}

// Deps are the collaborators of a Controller. Provider and Probe are required.
type Deps struct {
	Provider model.ScoreProvider
	Probe    Probe
	Tips     result.TipLookup
	Logger   *slog.Logger
	Now      func() time.Time
}

// Snapshot is a read-only view of the controller state.
type Snapshot struct {
	ModelState    ModelState         `json:"modelState"`
	AnalysisState AnalysisState      `json:"analysisState"`
	Image         *ImageInfo         `json:"image,omitempty"`
	Result        *result.Prediction `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Controller is the single owner of ModelState, AnalysisState, the current
// ImageAsset and the current Prediction. All methods are safe for concurrent
// use; long-running work runs in background goroutines that take the lock
// only to transition state.
type Controller struct {
	cfg      Config
	provider model.ScoreProvider
	probe    Probe
	tips     result.TipLookup
	log      *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events *broker

	mu            sync.Mutex
	closed        bool
	modelState    ModelState
	analysisState AnalysisState
	image         *ImageAsset
	result        *result.Prediction
	lastErr       error
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New returns a Controller in the Uninitialized/Idle state.
func New(cfg Config, deps Deps) *Controller {
	if len(cfg.Weights) == 0 {
		cfg.Weights = model.DefaultWeights
	}
	cfg.Weights = slices.Clone(cfg.Weights)
	if cfg.FailedUpload == "" {
		cfg.FailedUpload = RetainOnFailedUpload
	}
	if deps.Tips == nil {
		deps.Tips = tips.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		provider: deps.Provider,
		probe:    deps.Probe,
		tips:     deps.Tips,
		log:      deps.Logger,
		now:      deps.Now,
		ctx:      ctx,
		cancel:   cancel,
		events:   newBroker(),
	}
}

// Initialize starts the readiness probe. It is ignored unless the model is
// Uninitialized or Failed. The returned channel closes once the probe has
// settled; the bool reports whether a probe was started.
func (c *Controller) Initialize() (<-chan struct{}, bool) {
	c.mu.Lock()
	if c.closed || (c.modelState != Uninitialized && c.modelState != Failed) {
		c.mu.Unlock()
		return closedDone, false
	}
	c.lastErr = nil
	c.setModelState(Loading)
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		c.runProbe()
	}()
	return done, true
}

func (c *Controller) runProbe() {
	ctx := c.ctx
	if c.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		defer cancel()
	}

	// The probe runs apart so an implementation that ignores ctx cannot
	// hold the model in Loading past the timeout.
	errCh := make(chan error, 1)
	go func() {
		errCh <- guard("readiness probe", func() error { return c.probe.Probe(ctx) })
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		c.log.Warn("model readiness probe failed", "error", err)
		c.setModelState(Failed)
		c.publish(EventError)
		return
	}
	c.log.Info("model ready")
	c.setModelState(Ready)
}

// UploadImage replaces the current image and clears any result, even while
// an analysis is in flight. Content that does not decode returns an error
// wrapping ErrInvalidImage and leaves no new asset behind.
func (c *Controller) UploadImage(content []byte) (ImageAsset, error) {
	asset, err := DecodeImage(content, c.cfg.MaxImageBytes, c.cfg.MaxImagePixels)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.log.Warn("rejected image upload", "bytes", len(content), "error", err)
		if c.cfg.FailedUpload == ClearOnFailedUpload && (c.image != nil || c.result != nil) {
			c.image = nil
			c.result = nil
			c.publish(EventImage)
		}
		return ImageAsset{}, err
	}

	c.image = &asset
	c.result = nil
	c.log.Info("image uploaded",
		"image_id", asset.ID,
		"format", asset.Format,
		"width", asset.Width,
		"height", asset.Height,
	)
	c.publish(EventImage)
	return asset, nil
}

// RequestAnalysis starts an analysis of the current image. It is a silent
// no-op unless the model is Ready, an image is present and no analysis is
// running. The returned channel closes once the analysis has settled.
func (c *Controller) RequestAnalysis() (<-chan struct{}, bool) {
	c.mu.Lock()
	if c.closed || c.modelState != Ready || c.image == nil || c.analysisState != Idle {
		c.mu.Unlock()
		return closedDone, false
	}
	asset := *c.image
	weights := slices.Clone(c.cfg.Weights)
	c.setAnalysisState(Analyzing)
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		c.runAnalysis(asset, weights)
	}()
	return done, true
}

func (c *Controller) runAnalysis(asset ImageAsset, weights []float64) {
	var pred result.Prediction
	err := guard("score provider", func() error {
		var err error
		pred, err = c.analyze(asset, weights)
		return err
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	var terminal []EventType
	switch {
	case err != nil:
		c.lastErr = err
		c.log.Error("analysis failed", "image_id", asset.ID, "error", err)
		if c.cfg.ClearResultOnFailure && c.result != nil {
			c.result = nil
			terminal = append(terminal, EventResult)
		}
		terminal = append(terminal, EventError)
	case c.image == nil || c.image.ID != asset.ID:
		c.log.Info("discarding stale analysis", "image_id", asset.ID)
		terminal = append(terminal, EventStale)
	default:
		pred.ImageID = asset.ID
		pred.CreatedAt = c.now()
		c.result = &pred
		c.lastErr = nil
		c.log.Info("analysis complete",
			"image_id", asset.ID,
			"emotion", pred.PrimaryEmotion,
			"confidence", pred.PrimaryConfidence,
		)
		terminal = append(terminal, EventResult)
	}

	// Idle goes out first so terminal events carry the settled state.
	c.setAnalysisState(Idle)
	for _, t := range terminal {
		c.publish(t)
	}
}

func (c *Controller) analyze(asset ImageAsset, weights []float64) (result.Prediction, error) {
	if d := c.cfg.AnalysisDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return result.Prediction{}, c.ctx.Err()
		case <-timer.C:
		}
	}

	dist, err := c.provider.Distribution(c.ctx, model.Input{Weights: weights, Image: asset.img})
	if err != nil {
		return result.Prediction{}, fmt.Errorf("score provider: %w", err)
	}
	return result.Format(dist, emotion.All(), c.tips)
}

// guard converts a panic in fn into an error.
func guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
		}
	}()
	return fn()
}

// Subscribe returns a channel of state changes and a func that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ModelState:    c.modelState,
		AnalysisState: c.analysisState,
		Image:         c.imageInfo(),
		Result:        c.resultCopy(),
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}

// ModelState returns the current readiness.
func (c *Controller) ModelState() ModelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelState
}

// AnalysisState returns whether an analysis is running.
func (c *Controller) AnalysisState() AnalysisState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysisState
}

// Image returns the current asset.
func (c *Controller) Image() (ImageAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image == nil {
		return ImageAsset{}, false
	}
	return *c.image, true
}

// Result returns a copy of the current prediction.
func (c *Controller) Result() (result.Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return result.Prediction{}, false
	}
	return c.result.Clone(), true
}

// LastError returns the most recent probe or analysis failure.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close cancels in-flight work, waits for it and closes all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.events.close()
}

// setModelState must be called with c.mu held.
func (c *Controller) setModelState(s ModelState) {
	if c.modelState == s {
		return
	}
	c.log.Debug("model state", "from", c.modelState, "to", s)
	c.modelState = s
	c.publish(EventModelState)
}

// setAnalysisState must be called with c.mu held.
func (c *Controller) setAnalysisState(s AnalysisState) {
	if c.analysisState == s {
		return
	}
	c.log.Debug("analysis state", "from", c.analysisState, "to", s)
	c.analysisState = s
	c.publish(EventAnalysisState)
}

// publish must be called with c.mu held.
func (c *Controller) publish(t EventType) {
	evt := Event{
		Type:          t,
		ModelState:    c.modelState,
		AnalysisState: c.analysisState,
		Image:         c.imageInfo(),
		Result:        c.resultCopy(),
		Time:          c.now(),
	}
	if c.lastErr != nil && (t == EventError || t == EventModelState) {
		evt.Error = c.lastErr.Error()
	}
	c.events.publish(evt)
}

func (c *Controller) imageInfo() *ImageInfo {
	if c.image == nil {
		return nil
	}
	info := c.image.Info()
	return &info
}

func (c *Controller) resultCopy() *result.Prediction {
	if c.result == nil {
		return nil
	}
	p := c.result.Clone()
	return &p
}
