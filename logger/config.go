package logger

import (
	"go.uber.org/zap/zapcore"
)

// Config is the per-module logger configuration, derived from ManagerConfig.
type Config struct {
	Level         string
	Encoding      string // json or console
	EnableConsole bool
	EnableFile    bool

	moduleName string
	logDir     string

	// File rotation (lumberjack)
	MaxSize    int  // MB per file
	MaxBackups int  // retained old files
	MaxAge     int  // retained days
	Compress   bool

	EnableCaller bool
}

// ManagerConfig is the global logger configuration shared by all modules.
type ManagerConfig struct {
	AppName       string `mapstructure:"app_name"`
	BaseLogDir    string `mapstructure:"base_log_dir"`
	Level         string `mapstructure:"level"`
	Encoding      string `mapstructure:"encoding"`
	EnableConsole bool   `mapstructure:"enable_console"`
	EnableFile    bool   `mapstructure:"enable_file"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
	EnableCaller  bool   `mapstructure:"enable_caller"`

	// Per-module level overrides, e.g. {"discovery": "debug"}
	ModuleLevels map[string]string `mapstructure:"module_levels"`
}

// DefaultManagerConfig returns a console-only development configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseLogDir:    "logs",
		Level:         "info",
		Encoding:      "console",
		EnableConsole: true,
		EnableFile:    false,
		MaxSize:       100,
		MaxBackups:    10,
		MaxAge:        30,
		Compress:      false,
		EnableCaller:  true,
		ModuleLevels:  map[string]string{},
	}
}

// parseLevel maps a level string to zapcore.Level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
