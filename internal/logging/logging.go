// Package logging provides the one sugared zap logger every other package
// takes as a constructor argument, instead of reaching for a package-level
// global, giving every debug line structured fields instead of a
// scattered fprintf(stdout, ...) call.
package logging

import "go.uber.org/zap"

// New builds a sugared logger. debug=true gets a development config
// (console-friendly, debug level); debug=false gets a production config
// (JSON, info level) suitable for piping into a log aggregator.
func New(debug bool) *zap.SugaredLogger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		// zap's own configs never fail to build; fall back to Nop rather
		// than take down the peer over a logger.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// Nop returns a logger that discards everything, for tests that don't
// want log noise.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
