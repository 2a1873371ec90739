package logging

import (
	"fmt"
	"io"
	"log/slog"

	sloglogrus "github.com/samber/slog-logrus/v2"
	log "github.com/sirupsen/logrus"
)

// Formats accepted by Configure
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure sets the output format and level of the logger. JSON is used
// when the format is blank, which is what CloudWatch Logs Insights expects
func Configure(logger *log.Logger, format, level string, out io.Writer) error {
	if logger == nil {
		return nil
	}

	if out != nil {
		logger.SetOutput(out)
	}

	switch format {
	case FormatJSON, "":
		ConfigureLogrusJSON(logger)
	case FormatText:
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return fmt.Errorf("invalid log format %q, valid values: %v, %v", format, FormatJSON, FormatText)
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		return fmt.Errorf("could not parse log level: %w", err)
	}
	logger.SetLevel(lvl)

	return nil
}

// RouteSlog sends everything logged with the standard library's slog package
// to the logger, so that libraries using slog share its format and level
func RouteSlog(logger *log.Logger) {
	if logger == nil {
		return
	}

	slog.SetDefault(slog.New(sloglogrus.Option{
		Level:  slog.LevelDebug,
		Logger: logger,
	}.NewLogrusHandler()))
}

// ConfigureLogrusJSON sets the logger to emit JSON logs with a severity field.
func ConfigureLogrusJSON(logger *log.Logger) {
	if logger == nil {
		return
	}

	logger.SetFormatter(&log.JSONFormatter{})
	logger.AddHook(OtelSeverityHook{})
}

// OtelSeverityHook adds a severity field to log entries, using the names
// of the OpenTelemetry severity levels.
type OtelSeverityHook struct{}

func (OtelSeverityHook) Levels() []log.Level {
	return log.AllLevels
}

func (OtelSeverityHook) Fire(entry *log.Entry) error {
	if entry == nil {
		return nil
	}
	if _, ok := entry.Data["severity"]; ok {
		return nil
	}

	entry.Data["severity"] = severityForLevel(entry.Level)
	return nil
}

func severityForLevel(level log.Level) string {
	switch level {
	case log.PanicLevel:
		return "EMERGENCY"
	case log.FatalLevel:
		return "CRITICAL"
	case log.ErrorLevel:
		return "ERROR"
	case log.WarnLevel:
		return "WARNING"
	case log.InfoLevel:
		return "INFO"
	case log.DebugLevel, log.TraceLevel:
		return "DEBUG"
	default:
		return "DEFAULT"
	}
}
