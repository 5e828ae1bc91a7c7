package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"chatty", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitToFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := Init("info", true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !IsFileLogging() {
		t.Error("IsFileLogging() = false after Init(toFile=true)")
	}
	path := GetLogFilePath()
	if !strings.HasPrefix(path, filepath.Join(home, ".instruct", "logs")) {
		t.Errorf("log file %q not under HOME", path)
	}

	logger.Info("hello from test")
	Close(logger)

	if IsFileLogging() {
		t.Error("IsFileLogging() = true after Close")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing message:\n%s", data)
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if _, err := Init("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
