package core

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

// cronCaptureHandler records slog records for CronUtils tests.
type cronCaptureHandler struct {
	records []slog.Record
}

func (h *cronCaptureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *cronCaptureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func (h *cronCaptureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *cronCaptureHandler) WithGroup(_ string) slog.Handler      { return h }

func TestValidateCronExpressionAccepts(t *testing.T) {
	for _, expr := range []string{
		"* * * * *",
		"*/5 * * * *",
		"0 9 * * mon",
		"30 4 1,15 * *",
		"0 0 1 1 *",
	} {
		if err := ValidateCronExpression(expr); err != nil {
			t.Errorf("expected %q to validate, got %v", expr, err)
		}
	}
}

func TestValidateCronExpressionRejects(t *testing.T) {
	for _, expr := range []string{
		"@daily",
		"@hourly",
		"@every 1h",
		"0 0 * * * *",  // six fields
		"* * * *",      // four fields
		"61 * * * *",   // minute out of range
		"* 25 * * *",   // hour out of range
		"not-a-cron",   // garbage
		"*/0 * * * *",  // zero step
		"0 9 * * mon-", // dangling range
	} {
		err := ValidateCronExpression(expr)
		if err == nil {
			t.Errorf("expected %q to be rejected", expr)
			continue
		}
		if !errors.Is(err, ErrInvalidCron) {
			t.Errorf("expected ErrInvalidCron for %q, got %v", expr, err)
		}
	}
}

func TestValidateCronExpressionEmpty(t *testing.T) {
	err := ValidateCronExpression("")
	if !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}
}

func TestCronUtilsInfoForwardsArgs(t *testing.T) {
	handler := &cronCaptureHandler{}
	logger := slog.New(handler)
	cu := NewCronUtils(logger)
	cu.Info("msg", "a", 1, "b", 2)
	if len(handler.records) != 1 {
		t.Fatalf("expected 1 call, got %d", len(handler.records))
	}
	record := handler.records[0]
	if record.Level != slog.LevelDebug {
		t.Errorf("expected level Debug, got %s", record.Level)
	}
	if record.Message != "msg" {
		t.Errorf("expected message %q, got %q", "msg", record.Message)
	}
}

func TestCronUtilsErrorForwardsArgs(t *testing.T) {
	handler := &cronCaptureHandler{}
	logger := slog.New(handler)
	cu := NewCronUtils(logger)
	err := errors.New("boom")
	cu.Error(err, "fail", "k", "v")
	if len(handler.records) != 1 {
		t.Fatalf("expected 1 call, got %d", len(handler.records))
	}
	record := handler.records[0]
	if record.Level != slog.LevelError {
		t.Errorf("expected level Error, got %s", record.Level)
	}
	if record.Message != "fail" {
		t.Errorf("expected message %q, got %q", "fail", record.Message)
	}
}
