// Package logging provides the injectable structured-log sink used by the
// health monitor, RPC client and load balancer. It wraps logrus the same
// way the teacher project's own logging package does (see
// logging/log_test.go in the example pack), but never forces a global
// logger on a caller: components take a Sink and default to NoopSink.
package logging

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// Sink is the cross-cutting logging interface accepted by every core
// component. Implementations must be safe for concurrent use.
type Sink interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Notice(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type noopSink struct{}

func (noopSink) Debug(string, map[string]interface{}) {}
func (noopSink) Info(string, map[string]interface{})  {}
func (noopSink) Notice(string, map[string]interface{}) {}
func (noopSink) Warn(string, map[string]interface{})  {}
func (noopSink) Error(string, map[string]interface{}) {}

// NoopSink discards everything. It is the default when no Sink is wired in.
var NoopSink Sink = noopSink{}

// LogrusSink adapts a *logrus.Logger to the Sink interface. logrus has no
// Notice level, so Notice is emitted at Info level with a notice=true field.
type LogrusSink struct {
	logger *log.Logger
}

// Options configures NewLogrusSink.
type Options struct {
	Output io.Writer
	Level  log.Level
}

// NewLogrusSink builds a Sink backed by a dedicated logrus.Logger instance
// (not the package-level global), so multiple balancers in the same
// process can carry independent log destinations.
func NewLogrusSink(o Options) *LogrusSink {
	l := log.New()
	if o.Output != nil {
		l.SetOutput(o.Output)
	}
	l.SetFormatter(&log.JSONFormatter{})
	if o.Level != 0 {
		l.SetLevel(o.Level)
	}
	return &LogrusSink{logger: l}
}

func (s *LogrusSink) Debug(msg string, fields map[string]interface{}) {
	s.logger.WithFields(fields).Debug(msg)
}

func (s *LogrusSink) Info(msg string, fields map[string]interface{}) {
	s.logger.WithFields(fields).Info(msg)
}

func (s *LogrusSink) Notice(msg string, fields map[string]interface{}) {
	f := log.Fields{"notice": true}
	for k, v := range fields {
		f[k] = v
	}
	s.logger.WithFields(f).Info(msg)
}

func (s *LogrusSink) Warn(msg string, fields map[string]interface{}) {
	s.logger.WithFields(fields).Warn(msg)
}

func (s *LogrusSink) Error(msg string, fields map[string]interface{}) {
	s.logger.WithFields(fields).Error(msg)
}
