package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"shroomdump/internal/logging"
	"shroomdump/internal/services"
)

// stepper numbers the steps of a run across modes.
type stepper struct {
	logger *slog.Logger
	count  int
}

func newStepper(logger *slog.Logger) *stepper {
	return &stepper{logger: logger}
}

// run logs "N. Step: text" and executes fn with the step name on ctx.
func (s *stepper) run(ctx context.Context, text string, fn func(ctx context.Context) error) error {
	s.count++
	ctx = services.WithStage(ctx, text)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info(fmt.Sprintf("%d. Step: %s", s.count, text), logging.String(logging.FieldEventType, "step_start"))
	if err := fn(ctx); err != nil {
		logger.Debug("step failed", logging.Args(append(logging.ErrorAttrs(err), logging.String(logging.FieldEventType, "step_failed"))...)...)
		return err
	}
	return nil
}
