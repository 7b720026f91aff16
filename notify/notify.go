// Package notify carries the facts the core emits for downstream delivery.
// Delivery itself (badges, messages, email) happens outside the core.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	TopicDecisionNeeded   = "decision.needed"
	TopicDecisionRecorded = "decision.recorded"
	TopicRequestApproved  = "request.approved"
	TopicDisputeOpened    = "dispute.opened"
	TopicDisputeResolved  = "dispute.resolved"
	TopicSLABreached      = "sla.breached"
)

// Fact is one notification-worthy event.
type Fact struct {
	Topic       string         `json:"topic"`
	RecipientID string         `json:"recipient_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	DisputeID   string         `json:"dispute_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Notifier publishes facts.
type Notifier interface {
	Publish(ctx context.Context, fact Fact) error
}

// Discard drops every fact.
type Discard struct{}

func (Discard) Publish(context.Context, Fact) error { return nil }

// Recorder keeps published facts in memory.
type Recorder struct {
	mu    sync.Mutex
	facts []Fact
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, fact Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, fact)
	return nil
}

// Facts returns a copy of everything published so far.
func (r *Recorder) Facts() []Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fact(nil), r.facts...)
}

// Topic returns the published facts with the given topic, oldest first.
func (r *Recorder) Topic(topic string) []Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Fact
	for _, f := range r.facts {
		if f.Topic == topic {
			out = append(out, f)
		}
	}
	return out
}

// Fanout publishes each fact to every target concurrently.
type Fanout struct {
	targets []Notifier
}

func NewFanout(targets ...Notifier) *Fanout {
	return &Fanout{targets: targets}
}

// Publish waits for every target and joins their errors.
func (f *Fanout) Publish(ctx context.Context, fact Fact) error {
	errs := make([]error, len(f.targets))
	var g errgroup.Group
	for i, target := range f.targets {
		i, target := i, target
		g.Go(func() error {
			errs[i] = target.Publish(ctx, fact)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
