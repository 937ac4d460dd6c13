package fuod

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ModuleRunner runs a module within the supervisor.
type ModuleRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor manages module lifecycles. The first module to fail stops
// the others.
type Supervisor struct {
	Logger *zap.Logger
}

// Run starts all module runners and waits for them to return.
func (s Supervisor) Run(ctx context.Context, modules []ModuleRunner) error {
	if len(modules) == 0 {
		return fmt.Errorf("no modules enabled")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(modules))

	for _, m := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := logger.With(zap.String("module", m.Name))
			log.Info("starting module")
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("module exited", zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", m.Name, err)
				return
			}
			log.Info("module stopped")
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}
