package validation

import (
	"strings"
	"testing"

	apperrors "github.com/kbukum/pvkit/errors"
)

type retrySettings struct {
	Jitter float64 `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

type settings struct {
	Provider   string        `mapstructure:"provider" validate:"required"`
	GetPolicy  string        `mapstructure:"get_policy" validate:"oneof=fresh cached"`
	MaxPending int64         `mapstructure:"max_pending_connects" validate:"gte=0"`
	Retry      retrySettings `mapstructure:"connect_retry"`
	NoTag      int           `validate:"lte=5"`
}

func TestValidateValid(t *testing.T) {
	s := settings{Provider: "memory", GetPolicy: "fresh"}
	if err := Validate(s); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateInvalid(t *testing.T) {
	s := settings{GetPolicy: "sometimes", MaxPending: -1, Retry: retrySettings{Jitter: 2}, NoTag: 9}
	err := Validate(s)

	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != apperrors.ErrCodeInvalidConfig {
		t.Errorf("expected INVALID_CONFIG, got %s", appErr.Code)
	}

	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("expected field details, got %T", appErr.Details["fields"])
	}
	got := make(map[string]string, len(fields))
	for _, f := range fields {
		got[f.Field] = f.Message
	}

	want := map[string]string{
		"provider":             "is required",
		"get_policy":           "must be one of: fresh cached",
		"max_pending_connects": "must be at least 0",
		"connect_retry.jitter": "must be at most 1",
		"no_tag":               "must be at most 5",
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Errorf("%s: expected %q, got %q", field, msg, got[field])
		}
	}
	if !strings.Contains(appErr.Message, "provider: is required") {
		t.Errorf("expected summary message, got %q", appErr.Message)
	}
}

func TestValidateNonStruct(t *testing.T) {
	err := Validate(42)
	if !apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"GetPolicy":  "get_policy",
		"Provider":   "provider",
		"MaxPending": "max_pending",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
