// Package logging provides config-driven categorized file-based logging for
// scholard. Logs are written to <outputs>/logs/ with separate files per
// category. Logging is controlled by the logging section of scholar.yaml -
// when debug_mode is false, no category logs are written.
//
// The per-run dispatcher log (unattended_<id>.log) is NOT handled here; it is
// a run artifact with a fixed path, owned by the run controller, and is
// always written regardless of debug mode.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryRun       Category = "run"       // Run controller lifecycle
	CategoryDispatch  Category = "dispatch"  // Agent subprocess dispatch
	CategoryTelemetry Category = "telemetry" // Snapshot builds
	CategoryStatus    Category = "status"    // Dashboard stats/readiness reads
	CategoryDigest    Category = "digest"    // Weekly digest generation
)

// loggingConfig mirrors the relevant part of config.LoggingConfig
// to avoid a circular import.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// manifestFile is the slice of scholar.yaml this package reads.
type manifestFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a category-specific file logger.
type Logger struct {
	category Category
	file     *os.File
	logger   *log.Logger
}

var (
	outputsRoot string
	logsDir     string

	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	config       loggingConfig
	configMu     sync.RWMutex
	configLoaded bool

	logLevel int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads the logging section
// from the manifest at configPath. Should be called once at startup with
// the outputs root; logs land under <root>/logs/.
func Initialize(root, configPath string) error {
	if root == "" {
		return fmt.Errorf("outputs root required")
	}

	outputsRoot = root
	logsDir = filepath.Join(outputsRoot, "logs")

	if err := loadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create the logs directory when debug mode is on.
	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== scholard logging initialized ===")
	boot.Info("Outputs root: %s", outputsRoot)
	boot.Info("Log level: %s", config.Level)

	return nil
}

// loadConfig reads the logging section from the manifest file.
func loadConfig(configPath string) error {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No manifest = production mode (no category logs)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	config = mf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// EnableForTest turns on all-category debug logging under dir.
// Tests use this instead of Initialize to avoid manifest files.
func EnableForTest(dir string) {
	configMu.Lock()
	config = loggingConfig{DebugMode: true, Level: "debug"}
	configLoaded = true
	logLevel = LevelDebug
	configMu.Unlock()

	outputsRoot = dir
	logsDir = filepath.Join(dir, "logs")
	_ = os.MkdirAll(logsDir, 0755)
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// CloseAll closes every open log file. Call on shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// Convenience helpers, one pair per category.

func Boot(format string, args ...interface{})          { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...interface{})      { Get(CategoryBoot).Warn(format, args...) }
func Run(format string, args ...interface{})           { Get(CategoryRun).Info(format, args...) }
func RunDebug(format string, args ...interface{})      { Get(CategoryRun).Debug(format, args...) }
func RunWarn(format string, args ...interface{})       { Get(CategoryRun).Warn(format, args...) }
func RunError(format string, args ...interface{})      { Get(CategoryRun).Error(format, args...) }
func Dispatch(format string, args ...interface{})      { Get(CategoryDispatch).Info(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }
func DispatchWarn(format string, args ...interface{})  { Get(CategoryDispatch).Warn(format, args...) }
func Telemetry(format string, args ...interface{})     { Get(CategoryTelemetry).Info(format, args...) }
func TelemetryWarn(format string, args ...interface{}) { Get(CategoryTelemetry).Warn(format, args...) }
func Status(format string, args ...interface{})        { Get(CategoryStatus).Info(format, args...) }
func StatusDebug(format string, args ...interface{})   { Get(CategoryStatus).Debug(format, args...) }
func Digest(format string, args ...interface{})        { Get(CategoryDigest).Info(format, args...) }
func DigestWarn(format string, args ...interface{})    { Get(CategoryDigest).Warn(format, args...) }

// Timer measures operation duration for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
