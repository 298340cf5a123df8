// Package router resolves the concrete completion call target for an entity
// (endpoint, credential, model — falling back to global defaults), issues the
// call with a fixed per-call timeout and maps failures onto the typed
// provider taxonomy. Every distinct call target gets its own cached model
// client and circuit breaker; an open breaker surfaces as
// model.ErrProviderUnavailable without touching the provider.
//
// The router never retries against a different provider on failure; it
// surfaces the typed error and lets the scheduler decide user-visible
// behavior.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/model/anthropic"
	"github.com/hupe1980/chatmesh/model/openai"
)

// DefaultCallTimeout bounds one completion call.
const DefaultCallTimeout = 60 * time.Second

// Defaults are the global call parameters used when an entity carries no
// override. Entity overrides are validated at load time, so resolution here
// is pure string fallback with no error path.
type Defaults struct {
	APIURL string
	APIKey string
	Model  string
}

// Target is a fully resolved call destination.
type Target struct {
	Provider string
	Model    string
	APIURL   string
	APIKey   string
}

// Options configures a Router.
type Options struct {
	Defaults    Defaults
	CallTimeout time.Duration
	Logger      logging.Logger
	// Factory builds the model client for a target. Overridable for tests;
	// the default constructs the matching provider adapter.
	Factory func(t Target) model.Model
}

// Router resolves and executes completion calls. Safe for concurrent use.
type Router struct {
	defaults Defaults
	timeout  time.Duration
	logger   logging.Logger
	factory  func(t Target) model.Model

	mu       sync.Mutex
	models   map[Target]model.Model
	breakers map[Target]*gobreaker.CircuitBreaker
}

// New creates a Router with optional overrides.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		Defaults:    Defaults{Model: core.DefaultModel},
		CallTimeout: DefaultCallTimeout,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Factory == nil {
		opts.Factory = buildModel
	}
	if opts.Defaults.Model == "" {
		opts.Defaults.Model = core.DefaultModel
	}
	return &Router{
		defaults: opts.Defaults,
		timeout:  opts.CallTimeout,
		logger:   opts.Logger,
		factory:  opts.Factory,
		models:   make(map[Target]model.Model),
		breakers: make(map[Target]*gobreaker.CircuitBreaker),
	}
}

// Resolve computes the call target for an entity: entity override first,
// global default second.
func (r *Router) Resolve(e core.Entity) Target {
	apiURL := e.APIURL
	if apiURL == "" {
		apiURL = r.defaults.APIURL
	}
	apiKey := e.APIKey
	if apiKey == "" {
		apiKey = r.defaults.APIKey
	}
	name := e.Model
	if name == "" {
		name = r.defaults.Model
	}
	provider, name := splitProvider(name)
	return Target{Provider: provider, Model: name, APIURL: apiURL, APIKey: apiKey}
}

// Call resolves the entity's target and performs one completion call under
// the router's timeout. The returned error, if any, matches one of the
// model.ErrProvider* sentinels via errors.Is.
func (r *Router) Call(ctx context.Context, e core.Entity, req model.Request) (string, error) {
	target := r.Resolve(e)
	m, cb := r.clientFor(target)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := cb.Execute(func() (any, error) {
		return m.Complete(callCtx, req)
	})
	dur := time.Since(start)

	if err != nil {
		err = normalizeError(err, callCtx)
		r.logger.Error("completion call failed", "entity", e.Handle, "provider", target.Provider, "model", target.Model, "duration", dur, "error", err)
		return "", err
	}

	resp := result.(*model.Response)
	r.logger.Debug("completion call succeeded", "entity", e.Handle, "provider", target.Provider, "model", target.Model, "duration", dur)
	return resp.Text, nil
}

// clientFor returns the cached model client and breaker for a target,
// creating both on first use.
func (r *Router) clientFor(target Target) (model.Model, *gobreaker.CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[target]
	if !ok {
		m = r.factory(target)
		r.models[target] = m
	}
	cb, ok := r.breakers[target]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    target.Provider + "/" + target.Model,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.logger.Warn("circuit breaker state change", "target", name, "from", from.String(), "to", to.String())
			},
		})
		r.breakers[target] = cb
	}
	return m, cb
}

// normalizeError guarantees the returned error matches the typed taxonomy.
func normalizeError(err error, ctx context.Context) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open: %v", model.ErrProviderUnavailable, err)
	case errors.Is(err, model.ErrProviderTimeout),
		errors.Is(err, model.ErrProviderRejected),
		errors.Is(err, model.ErrProviderUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", model.ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
}

// splitProvider parses optional "provider/model" notation. Bare names infer
// the provider from well-known prefixes, defaulting to the OpenAI-compatible
// adapter (custom api_url endpoints speak that dialect).
func splitProvider(name string) (string, string) {
	if prefix, rest, ok := strings.Cut(name, "/"); ok {
		switch prefix {
		case "openai", "anthropic":
			return prefix, rest
		}
	}
	if strings.HasPrefix(name, "claude") {
		return "anthropic", name
	}
	return "openai", name
}

// buildModel constructs the provider adapter for a target.
func buildModel(t Target) model.Model {
	switch t.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = t.Model
			o.APIKey = t.APIKey
			o.BaseURL = t.APIURL
		})
	default:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = t.Model
			o.APIKey = t.APIKey
			o.BaseURL = t.APIURL
		})
	}
}
