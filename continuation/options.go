package continuation

type continuationOptions struct {
	onPinned func(Reason)
}

// Option configures a Continuation.
type Option interface {
	applyContinuation(*continuationOptions) error
}

type optionImpl struct {
	applyContinuationFunc func(*continuationOptions) error
}

func (o *optionImpl) applyContinuation(opts *continuationOptions) error {
	return o.applyContinuationFunc(opts)
}

// WithOnPinned sets a callback, invoked synchronously within Yield, on the
// body's goroutine, each time suspension is refused because the body is
// pinned.
func WithOnPinned(fn func(reason Reason)) Option {
	return &optionImpl{func(opts *continuationOptions) error {
		opts.onPinned = fn
		return nil
	}}
}

func resolveOptions(opts []Option) (*continuationOptions, error) {
	cfg := &continuationOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContinuation(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
