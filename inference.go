package agentrt

import (
	"context"
	"log/slog"
	"sync"
)

// InferenceContext is the payload handed to a provider's complete call: the
// full message history and the tool schemas currently in scope.
type InferenceContext struct {
	Messages []Message
	Tools    []ToolSchema
}

// ToolSchema describes one tool's name/description/JSON schema for the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// InferenceClient is the contract a concrete provider SDK implements. Its
// construction and its complete calls are external collaborators; this
// package only consumes the interface.
type InferenceClient interface {
	ModelId() string
	Complete(ctx context.Context, in InferenceContext, opts CompleteOptions) (Message, error)
}

// CompleteOptions carries call-scoped metadata a client may use for logging
// or per-agent routing decisions, without widening the interface per call.
type CompleteOptions struct {
	AgentId AgentId
}

// ProviderConfig names one entry of the router's ordered provider list.
type ProviderConfig struct {
	Id      string
	Model   string
	Options map[string]any
}

// ProviderFactory constructs a client for a ProviderConfig. Construction
// failure triggers fallback to the next provider; a runtime error from the
// constructed client's Complete does not.
type ProviderFactory func(cfg ProviderConfig) (InferenceClient, error)

// RouterEventKind tags the structured telemetry the router emits per attempt.
type RouterEventKind string

const (
	RouterAttempt  RouterEventKind = "attempt"
	RouterFallback RouterEventKind = "fallback"
	RouterSuccess  RouterEventKind = "success"
	RouterFailure  RouterEventKind = "failure"
)

// RouterEvent is one structured telemetry item the router emits through its
// pulled event channel, replacing a callback-heavy onAttempt/onFallback API.
type RouterEvent struct {
	Kind       RouterEventKind
	ProviderId string
	Err        error
}

// CompleteResult carries back which provider actually answered.
type CompleteResult struct {
	ProviderId string
	ModelId    string
	Message    Message
}

// InferenceRouter holds an ordered, atomically-replaceable list of provider
// configurations and drives the provider-fallback loop described in §4.6.
type InferenceRouter struct {
	mu        sync.RWMutex
	providers []ProviderConfig
	factories map[string]ProviderFactory

	events chan RouterEvent
	log    *slog.Logger
}

// NewInferenceRouter creates a router over the given factories, keyed by
// ProviderConfig.Id. events has a small buffer; slow consumers drop events
// rather than block inference (telemetry must never be on the critical path).
func NewInferenceRouter(factories map[string]ProviderFactory, log *slog.Logger) *InferenceRouter {
	if log == nil {
		log = slog.Default()
	}
	return &InferenceRouter{
		factories: factories,
		events:    make(chan RouterEvent, 256),
		log:       log,
	}
}

// Events returns the channel of structured telemetry. It is safe to ignore.
func (r *InferenceRouter) Events() <-chan RouterEvent { return r.events }

// UpdateProviders atomically replaces the active provider list between turns.
func (r *InferenceRouter) UpdateProviders(list []ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append([]ProviderConfig{}, list...)
}

func (r *InferenceRouter) emit(ev RouterEvent) {
	select {
	case r.events <- ev:
	default:
		r.log.Warn("inference router event dropped, consumer too slow", "kind", ev.Kind)
	}
}

// Complete iterates the configured providers in order. For each: look up the
// registered factory (missing -> warn and skip); construct a client
// (construction failure -> record fallback, try next); call Complete. The
// first provider whose Complete call returns wins -- its error, if any,
// propagates directly with no further rotation.
func (r *InferenceRouter) Complete(ctx context.Context, in InferenceContext, agentId AgentId) (CompleteResult, error) {
	r.mu.RLock()
	providers := append([]ProviderConfig{}, r.providers...)
	r.mu.RUnlock()

	for _, cfg := range providers {
		factory, ok := r.factories[cfg.Id]
		if !ok {
			r.log.Warn("inference provider not registered", "providerId", cfg.Id)
			continue
		}

		r.emit(RouterEvent{Kind: RouterAttempt, ProviderId: cfg.Id})
		client, err := factory(cfg)
		if err != nil {
			r.emit(RouterEvent{Kind: RouterFallback, ProviderId: cfg.Id, Err: err})
			continue
		}

		msg, err := client.Complete(ctx, in, CompleteOptions{AgentId: agentId})
		if err != nil {
			r.emit(RouterEvent{Kind: RouterFailure, ProviderId: cfg.Id, Err: err})
			return CompleteResult{}, err
		}

		r.emit(RouterEvent{Kind: RouterSuccess, ProviderId: cfg.Id})
		return CompleteResult{ProviderId: cfg.Id, ModelId: client.ModelId(), Message: msg}, nil
	}

	return CompleteResult{}, ErrNoInferenceProvider
}
