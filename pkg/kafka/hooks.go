package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. Returning an error from BeforeHandle
// skips the handler and sends the message down the error path.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, kafka.Message, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
	OnDeadLetter(ctx context.Context, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, kafka.Message, error) {
	return ctx, km, nil
}
func (NoopHook) AfterHandle(context.Context, kafka.Message, error)  {}
func (NoopHook) OnDeadLetter(context.Context, kafka.Message, error) {}

// HookFuncs builds a hook from optional functions.
type HookFuncs struct {
	Before     func(context.Context, kafka.Message) (context.Context, kafka.Message, error)
	After      func(context.Context, kafka.Message, error)
	DeadLetter func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, kafka.Message, error) {
	if h.Before == nil {
		return ctx, km, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, km, err)
	}
}

func (h HookFuncs) OnDeadLetter(ctx context.Context, km kafka.Message, err error) {
	if h.DeadLetter != nil {
		h.DeadLetter(ctx, km, err)
	}
}

// HookChain runs hooks in order; the first BeforeHandle error stops the chain.
type HookChain []ConsumerHook

func (hc HookChain) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, kafka.Message, error) {
	var err error
	for _, h := range hc {
		if ctx, km, err = h.BeforeHandle(ctx, km); err != nil {
			return ctx, km, err
		}
	}
	return ctx, km, nil
}

func (hc HookChain) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	for _, h := range hc {
		h.AfterHandle(ctx, km, err)
	}
}

func (hc HookChain) OnDeadLetter(ctx context.Context, km kafka.Message, err error) {
	for _, h := range hc {
		h.OnDeadLetter(ctx, km, err)
	}
}
