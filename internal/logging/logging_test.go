package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{name: "production default level", env: "production", wantLevel: zapcore.InfoLevel},
		{name: "development debug", env: "development", level: "debug", wantLevel: zapcore.DebugLevel},
		{name: "warn", env: "", level: "WARN", wantLevel: zapcore.WarnLevel},
		{name: "unknown level", env: "production", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Error("New() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if !logger.Core().Enabled(tt.wantLevel) {
				t.Errorf("level %v not enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && logger.Core().Enabled(tt.wantLevel-1) {
				t.Errorf("level %v enabled, want disabled", tt.wantLevel-1)
			}
		})
	}
}
