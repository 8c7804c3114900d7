package main

import (
	"log/slog"
	"time"

	"github.com/signalmesh/rendezvous/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SharedSecret == "" {
		logger.Warn("startup security warning: RENDEZVOUS_SHARED_SECRET is empty (join handshake accepts any secret)",
			"warning_code", "shared_secret_empty",
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows websocket upgrades from any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.CallDecisionTimeout > 2*time.Minute {
		logger.Warn("startup security warning: CALL_DECISION_TIMEOUT is very large (pending call requests hold hub state until they resolve)",
			"warning_code", "call_decision_timeout_large",
			"call_decision_timeout", cfg.CallDecisionTimeout,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
