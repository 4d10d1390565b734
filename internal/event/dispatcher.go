package event

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chatform/survey-engine/pkg/metrics"
)

// Handler receives survey events. Implementations usually embed BaseHandler
// and override the notifications they care about.
type Handler interface {
	OnCommandReceived(ctx context.Context, ev *CommandReceived) error
	OnQuestionAnswered(ctx context.Context, ev *QuestionAnswered) error
	OnQuestionChanged(ctx context.Context, ev *QuestionChanged) error
	OnChangePage(ctx context.Context, ev *ChangePage) error
	OnSurveyCancelled(ctx context.Context, ev *SurveyCancelled) error
	OnSurveyCompleted(ctx context.Context, ev *SurveyCompleted) error
	OnPayReceived(ctx context.Context, ev *PayReceived) error
	OnInvalidInteraction(ctx context.Context, ev *InvalidInteraction) error
}

// BaseHandler is a no-op Handler for embedding.
type BaseHandler struct{}

func (BaseHandler) OnCommandReceived(context.Context, *CommandReceived) error       { return nil }
func (BaseHandler) OnQuestionAnswered(context.Context, *QuestionAnswered) error     { return nil }
func (BaseHandler) OnQuestionChanged(context.Context, *QuestionChanged) error       { return nil }
func (BaseHandler) OnChangePage(context.Context, *ChangePage) error                 { return nil }
func (BaseHandler) OnSurveyCancelled(context.Context, *SurveyCancelled) error       { return nil }
func (BaseHandler) OnSurveyCompleted(context.Context, *SurveyCompleted) error       { return nil }
func (BaseHandler) OnPayReceived(context.Context, *PayReceived) error               { return nil }
func (BaseHandler) OnInvalidInteraction(context.Context, *InvalidInteraction) error { return nil }

// Registry resolves persistent handler tags to handler instances. Questions
// store tags, never instances, so handler identity survives storage round
// trips and process restarts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a tag to a handler instance. Registering an existing tag
// replaces the previous binding.
func (r *Registry) Register(tag string, h Handler) error {
	if tag == "" {
		return fmt.Errorf("handler tag cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for tag %q cannot be nil", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = h
	return nil
}

// Resolve returns the handler bound to a tag.
func (r *Registry) Resolve(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[tag]
	return h, ok
}

// Dispatcher fans survey events out to the handlers addressed by a question's
// tags plus the ambient subscribers. Deliveries run concurrently and are
// joined before Dispatch returns; a failing or panicking handler is logged
// and never blocks the others.
type Dispatcher struct {
	registry *Registry
	log      *zap.Logger

	mu          sync.RWMutex
	subscribers []Handler
}

// NewDispatcher builds a dispatcher over a handler registry.
func NewDispatcher(registry *Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Registry exposes the tag registry for handler registration.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Subscribe adds an ambient handler that receives every event regardless of
// which question raised it.
func (d *Dispatcher) Subscribe(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, h)
}

// targets resolves the per-question tags and appends the ambient
// subscribers. Unknown tags are logged and skipped.
func (d *Dispatcher) targets(tags []string) []Handler {
	var out []Handler
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		h, ok := d.registry.Resolve(tag)
		if !ok {
			d.log.Warn("no handler registered for tag", zap.String("tag", tag))
			continue
		}
		out = append(out, h)
	}
	d.mu.RLock()
	out = append(out, d.subscribers...)
	d.mu.RUnlock()
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, typ Type, handlers []Handler, call func(Handler) error) {
	metrics.RecordEvent(string(typ))
	var wg sync.WaitGroup
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.RecordEventFailure(string(typ))
					d.log.Error("event handler panicked",
						zap.String("event", string(typ)),
						zap.Any("panic", r))
				}
			}()
			if err := call(h); err != nil {
				metrics.RecordEventFailure(string(typ))
				d.log.Error("event handler failed",
					zap.String("event", string(typ)),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// CommandReceived delivers a CommandReceived event.
func (d *Dispatcher) CommandReceived(ctx context.Context, tags []string, ev *CommandReceived) {
	d.deliver(ctx, TypeCommandReceived, d.targets(tags), func(h Handler) error {
		return h.OnCommandReceived(ctx, ev)
	})
}

// QuestionAnswered delivers a QuestionAnswered event.
func (d *Dispatcher) QuestionAnswered(ctx context.Context, tags []string, ev *QuestionAnswered) {
	d.deliver(ctx, TypeQuestionAnswered, d.targets(tags), func(h Handler) error {
		return h.OnQuestionAnswered(ctx, ev)
	})
}

// QuestionChanged delivers a QuestionChanged event.
func (d *Dispatcher) QuestionChanged(ctx context.Context, tags []string, ev *QuestionChanged) {
	d.deliver(ctx, TypeQuestionChanged, d.targets(tags), func(h Handler) error {
		return h.OnQuestionChanged(ctx, ev)
	})
}

// ChangePage delivers a ChangePage event.
func (d *Dispatcher) ChangePage(ctx context.Context, tags []string, ev *ChangePage) {
	d.deliver(ctx, TypeChangePage, d.targets(tags), func(h Handler) error {
		return h.OnChangePage(ctx, ev)
	})
}

// SurveyCancelled delivers a SurveyCancelled event.
func (d *Dispatcher) SurveyCancelled(ctx context.Context, tags []string, ev *SurveyCancelled) {
	d.deliver(ctx, TypeSurveyCancelled, d.targets(tags), func(h Handler) error {
		return h.OnSurveyCancelled(ctx, ev)
	})
}

// SurveyCompleted delivers a SurveyCompleted event.
func (d *Dispatcher) SurveyCompleted(ctx context.Context, tags []string, ev *SurveyCompleted) {
	d.deliver(ctx, TypeSurveyCompleted, d.targets(tags), func(h Handler) error {
		return h.OnSurveyCompleted(ctx, ev)
	})
}

// PayReceived delivers a PayReceived event.
func (d *Dispatcher) PayReceived(ctx context.Context, tags []string, ev *PayReceived) {
	d.deliver(ctx, TypePayReceived, d.targets(tags), func(h Handler) error {
		return h.OnPayReceived(ctx, ev)
	})
}

// InvalidInteraction delivers an InvalidInteraction event.
func (d *Dispatcher) InvalidInteraction(ctx context.Context, tags []string, ev *InvalidInteraction) {
	d.deliver(ctx, TypeInvalidInteraction, d.targets(tags), func(h Handler) error {
		return h.OnInvalidInteraction(ctx, ev)
	})
}
