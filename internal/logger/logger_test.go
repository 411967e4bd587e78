package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	l := zap.NewNop().With(zap.String("request_id", "r-1"))
	ctx := WithContext(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Fatal("expected the logger stored in the context")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a fallback logger")
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New("realty-test", "production", "chatty")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zap.InfoLevel) || l.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected info level")
	}
}
