package bootstrap

import (
	"github.com/dipeo/dipeo/common/config"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/state"
)

type setupOptions struct {
	config     *config.Config
	logger     *logger.Logger
	repository state.Repository
}

// Option customizes Setup.
type Option func(*setupOptions)

// WithConfig uses a pre-built configuration instead of loading from the
// environment. Tests use this to avoid touching env vars.
func WithConfig(cfg *config.Config) Option {
	return func(o *setupOptions) { o.config = cfg }
}

// WithLogger uses a pre-built logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *setupOptions) { o.logger = log }
}

// WithRepository uses a pre-built state repository, overriding the configured
// backend.
func WithRepository(repo state.Repository) Option {
	return func(o *setupOptions) { o.repository = repo }
}

func applyOptions(opts []Option) *setupOptions {
	options := &setupOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
