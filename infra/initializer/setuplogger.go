package initializer

import (
	"io"
	"log/slog"
	"os"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
)

// SetupLogger builds the process logger and makes it the slog default.
// With a Loki URL configured, records are shipped to Loki; otherwise they
// go to the styled console logger. The returned func flushes the Loki
// client.
func SetupLogger(cfg *config.Log) (*slog.Logger, func()) {
	if cfg == nil {
		cfg = &config.Log{}
	}
	if cfg.LokiURL != "" {
		logger, stop, err := lokiLogger(cfg)
		if err == nil {
			slog.SetDefault(logger)
			return logger, stop
		}
		consoleLogger(cfg, os.Stderr).Error("loki unavailable, logging to console", "error", err)
	}
	logger := consoleLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger, func() {}
}

func lokiLogger(cfg *config.Log) (*slog.Logger, func(), error) {
	lokiConfig, err := loki.NewDefaultConfig(cfg.LokiURL)
	if err != nil {
		return nil, nil, err
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slogloki.Option{
		Level:  slog.Level(cfg.Level),
		Client: client,
	}.NewLokiHandler()).With("service", "ecclesia")
	return logger, client.Stop, nil
}

func consoleLogger(cfg *config.Log, w io.Writer) *slog.Logger {
	// Define color styles for different log levels
	styles := log.DefaultStyles()
	infoTxtColor := lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	warnTxtColor := lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#EE6FF8"}
	errorTxtColor := lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF6B6B"}
	debugTxtColor := lipgloss.AdaptiveColor{Light: "#7E57C2", Dark: "#7E57C2"}

	// Customize the style for each log level
	// Error level styling
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().
		SetString("❌").
		Bold(true).
		Padding(0, 1).
		Foreground(errorTxtColor)

	// Info level styling
	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().
		SetString("ℹ️").
		Bold(true).
		Padding(0, 1).
		Foreground(infoTxtColor)

	// Warn level styling
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().
		SetString("⚠️").
		Bold(true).
		Padding(0, 1).
		Foreground(warnTxtColor)

	// Debug level styling
	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().
		SetString("🐛").
		Bold(true).
		Padding(0, 1).
		Foreground(debugTxtColor)

	styles.Keys["error"] = lipgloss.NewStyle().Foreground(errorTxtColor)
	styles.Values["error"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["info"] = lipgloss.NewStyle().Foreground(infoTxtColor)
	styles.Values["info"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["warn"] = lipgloss.NewStyle().Foreground(warnTxtColor)
	styles.Values["warn"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["debug"] = lipgloss.NewStyle().Foreground(debugTxtColor)
	styles.Values["debug"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["prefix"] = lipgloss.NewStyle().Foreground(debugTxtColor)
	styles.Values["prefix"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["caller"] = lipgloss.NewStyle().Foreground(debugTxtColor)
	styles.Values["caller"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["time"] = lipgloss.NewStyle().Foreground(debugTxtColor)
	styles.Values["time"] = lipgloss.NewStyle().Bold(true)

	formattersMap := map[string]log.Formatter{
		"json": log.JSONFormatter,
		"text": log.TextFormatter,
	}
	formatter := log.TextFormatter
	if f, ok := formattersMap[cfg.Format]; ok {
		formatter = f
	}

	// Create a new logger with the custom styles
	logger := log.NewWithOptions(w, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           log.Level(cfg.Level),
		Prefix:          cfg.Prefix,
		Formatter:       formatter,
	})

	logger.SetStyles(styles)
	return slog.New(logger)
}
