package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("release") })

	SetLevel("debug")
	if Level() != zap.DebugLevel {
		t.Fatalf("level = %v, want debug", Level())
	}
	SetLevel("release")
	if Level() != zap.InfoLevel {
		t.Fatalf("level = %v, want info", Level())
	}
}

func TestLogUsableBeforeInit(t *testing.T) {
	if Log == nil {
		t.Fatalf("Log must not be nil before InitLogger")
	}
	Log.Info("noop logger accepts writes")
}
