// Package gate implements the validation-retry gate between the pipeline and
// the external reasoning units: coerce, strict-validate, retry once with the
// formatted errors embedded as repair context, and degrade gracefully on
// repeated failure. The gate never panics and never returns a Go error for a
// contract violation; callers read Result.OK.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dealdesk/internal/schema"
)

// Producer obtains one raw output from a reasoning unit. repair is empty on
// the first attempt and carries the formatted validation errors on retries.
type Producer func(ctx context.Context, repair string) ([]byte, error)

// Contract bundles a named output schema with its coercion and strict
// validation steps.
type Contract[T any] struct {
	Name     string
	Coerce   func(raw []byte) (T, error)
	Validate func(T) schema.ValidationErrors
}

// Result is the structured outcome of a gated production.
type Result[T any] struct {
	OK      bool
	Value   T
	Retries int // attempts beyond the first
	Errors  schema.ValidationErrors
	Err     error // last hard producer failure, if any
}

// Gate holds the retry policy. MaxRetries counts attempts beyond the first;
// the default of 1 gives the produce-retry-degrade discipline.
type Gate struct {
	MaxRetries int
	Logger     *zap.Logger
}

// New returns a gate with the given retry ceiling. Negative ceilings clamp
// to zero.
func New(maxRetries int, logger *zap.Logger) *Gate {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{MaxRetries: maxRetries, Logger: logger}
}

// Produce runs the gate flow: call the producer, coerce, strict-validate;
// on failure retry with a repair directive embedding the errors, up to the
// gate's ceiling. A producer hard failure consumes an attempt like a
// validation failure does.
func Produce[T any](ctx context.Context, g *Gate, c Contract[T], p Producer) Result[T] {
	var res Result[T]
	repair := ""

	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		res.Retries = attempt

		raw, err := p(ctx, repair)
		if err != nil {
			res.Err = err
			res.Errors = schema.ValidationErrors{{Path: c.Name, Msg: err.Error()}}
			g.Logger.Warn("producer failed",
				zap.String("contract", c.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			repair = RepairDirective(c.Name, res.Errors)
			continue
		}

		value, err := c.Coerce(raw)
		if err != nil {
			res.Errors = schema.ValidationErrors{{Path: c.Name, Msg: err.Error()}}
			g.Logger.Warn("coercion failed",
				zap.String("contract", c.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			repair = RepairDirective(c.Name, res.Errors)
			continue
		}

		errs := c.Validate(value)
		if errs.Empty() {
			res.OK = true
			res.Value = value
			res.Errors = nil
			res.Err = nil
			return res
		}

		res.Errors = errs
		g.Logger.Warn("validation failed",
			zap.String("contract", c.Name),
			zap.Int("attempt", attempt),
			zap.Int("errors", len(errs)))
		repair = RepairDirective(c.Name, errs)
	}

	return res
}

// RepairDirective formats validation errors into the repair context embedded
// in the retried reasoning call.
func RepairDirective(contract string, errs schema.ValidationErrors) string {
	return fmt.Sprintf(
		"Your previous output failed validation against the %s schema.\nErrors:\n%s\nReturn the corrected JSON object only, with no surrounding text.",
		contract, errs.Format())
}
