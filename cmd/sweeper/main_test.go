package main

import (
	"log/slog"
	"strings"
	"testing"

	"skillbarter/config"
)

func TestRun_ReturnsSetupErrors(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	err := run(config.Config{}, logger)
	if err == nil || !strings.Contains(err.Error(), "empty connection string") {
		t.Fatalf("expected empty connection string error, got %v", err)
	}

	err = run(config.Config{DatabaseURL: "postgres://%zz"}, logger)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
