// Package gosvlog builds the zap.Logger used throughout the
// supervisor. Grounded on edirooss-zmux-server's zap setup; replaces
// the teacher's "[gosv] ..." fmt.Printf lines with structured fields.
package gosvlog

import "go.uber.org/zap"

// New builds a production zap.Logger writing console-formatted lines
// (readable in a container's stdout, unlike bare JSON), or a
// development logger with debug-level output when verbose is true.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.DisableStacktrace = true
	return cfg.Build()
}
