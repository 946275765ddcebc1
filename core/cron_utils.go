package core

import (
	"fmt"
	"log/slog"

	"github.com/netresearch/go-cron"
)

// CronParseOpts are the parser flags for classic five-field expressions
// (minute hour day-of-month month day-of-week). Seconds fields and
// descriptors such as @daily are deliberately not accepted: stored
// expressions come from user input and must stay portable.
const CronParseOpts = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

// NewCronParser returns the strict five-field parser used by the trigger
// engine and by expression validation.
func NewCronParser() cron.Parser {
	return cron.NewParser(CronParseOpts)
}

// ValidateCronExpression checks a five-field cron expression and returns
// ErrInvalidCron wrapping the parser's message, suitable for API surfacing.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}
	if err := cron.ValidateSpec(expr, CronParseOpts); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCron, expr, err)
	}
	return nil
}

// Implement the cron logger interface
type CronUtils struct {
	Logger *slog.Logger
}

func NewCronUtils(l *slog.Logger) *CronUtils {
	return &CronUtils{Logger: l}
}

func (c *CronUtils) Info(msg string, keysAndValues ...any) {
	c.Logger.Debug(msg, keysAndValues...)
}

func (c *CronUtils) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	c.Logger.Error(msg, args...)
}
