package messaging

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-bus/contracts"
)

// DestinationFactory builds destinations from configurations and disposes
// of them when they are unregistered
type DestinationFactory interface {
	CreateDestination(cfg contracts.DestinationConfiguration) (Destination, error)
	Dispose(dest Destination)
}

// DestinationConstructor builds one destination type
type DestinationConstructor func(cfg contracts.DestinationConfiguration, opts ...DestinationOption) Destination

// DefaultDestinationFactory maps destination types to constructors
type DefaultDestinationFactory struct {
	mu           sync.RWMutex
	constructors map[contracts.DestinationType]DestinationConstructor
	logger       *slog.Logger
}

// NewDefaultDestinationFactory creates a factory for the built-in destination types
func NewDefaultDestinationFactory(logger *slog.Logger) *DefaultDestinationFactory {
	if logger == nil {
		logger = slog.Default()
	}

	f := &DefaultDestinationFactory{
		constructors: make(map[contracts.DestinationType]DestinationConstructor),
		logger:       logger,
	}

	f.RegisterConstructor(contracts.DestinationTypeParallel, func(cfg contracts.DestinationConfiguration, opts ...DestinationOption) Destination {
		return NewParallelDestination(cfg, opts...)
	})
	f.RegisterConstructor(contracts.DestinationTypeSerial, func(cfg contracts.DestinationConfiguration, opts ...DestinationOption) Destination {
		return NewSerialDestination(cfg, opts...)
	})
	f.RegisterConstructor(contracts.DestinationTypeSynchronous, func(cfg contracts.DestinationConfiguration, opts ...DestinationOption) Destination {
		return NewSynchronousDestination(cfg.Name, opts...)
	})

	return f
}

// RegisterConstructor adds or replaces the constructor for a destination type
func (f *DefaultDestinationFactory) RegisterConstructor(typ contracts.DestinationType, ctor DestinationConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typ] = ctor
}

// CreateDestination implements DestinationFactory
func (f *DefaultDestinationFactory) CreateDestination(cfg contracts.DestinationConfiguration) (Destination, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", contracts.ErrNoDestinationFactory, cfg.Type)
	}
	return ctor(cfg, WithDestinationLogger(f.logger)), nil
}

// Dispose closes dest gracefully
func (f *DefaultDestinationFactory) Dispose(dest Destination) {
	dest.Close(false)
}
