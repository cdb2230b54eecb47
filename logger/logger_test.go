package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Level(t *testing.T) {
	tests := []struct {
		name  string
		level logrus.Level
	}{
		{"DEBUG", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"ERROR", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tt := range tests {
		if got := New(tt.name, "").GetLevel(); got != tt.level {
			t.Errorf("New(%q) level = %v, expected %v", tt.name, got, tt.level)
		}
	}
}

func TestNew_Format(t *testing.T) {
	if _, ok := New("", "JSON").Formatter.(*logrus.JSONFormatter); !ok {
		t.Error("expected JSON formatter")
	}
	if _, ok := New("", "").Formatter.(*logrus.TextFormatter); !ok {
		t.Error("expected text formatter by default")
	}
}
