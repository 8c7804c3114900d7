package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/signalmesh/rendezvous/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &recordingHandler{mu: h.mu, records: h.records}
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}

func warningCodes(records []recordedLog) []string {
	var codes []string
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func TestStartupSecurityWarnings_EmptySecret(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	codes := warningCodes(records())
	if !containsString(codes, "shared_secret_empty") {
		t.Fatalf("codes=%v, want shared_secret_empty", codes)
	}
	if containsString(codes, "allowed_origins_wildcard") {
		t.Fatalf("codes=%v, unexpected wildcard warning", codes)
	}
}

func TestStartupSecurityWarnings_WildcardOrigins(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeProd,
		SharedSecret:   "s",
		AllowedOrigins: []string{"*"},
	})

	codes := warningCodes(records())
	if !containsString(codes, "allowed_origins_wildcard") {
		t.Fatalf("codes=%v, want allowed_origins_wildcard", codes)
	}
	if containsString(codes, "shared_secret_empty") {
		t.Fatalf("codes=%v, unexpected secret warning", codes)
	}
}

func TestStartupSecurityWarnings_LargeDecisionTimeout(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                config.ModeProd,
		SharedSecret:        "s",
		AllowedOrigins:      []string{"https://example.com"},
		CallDecisionTimeout: 10 * time.Minute,
	})

	codes := warningCodes(records())
	if !containsString(codes, "call_decision_timeout_large") {
		t.Fatalf("codes=%v, want call_decision_timeout_large", codes)
	}
}

func TestStartupSecurityWarnings_QuietInStrictConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                config.ModeProd,
		SharedSecret:        "s",
		AllowedOrigins:      []string{"https://example.com"},
		CallDecisionTimeout: config.DefaultCallDecisionTimeout,
	})

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("codes=%v, want none", codes)
	}
}
