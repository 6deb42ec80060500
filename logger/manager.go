// Package logger provides module-scoped zap loggers with a shared manager.
//
// Components obtain a logger once at construction time via GetLogger(module)
// and pass a context on every call so trace identifiers can be attached.
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Manager owns the zap cores and hands out per-module loggers.
type Manager struct {
	config  ManagerConfig
	loggers map[string]*CtxZapLogger
	writers []*lumberjack.Logger
	mu      sync.RWMutex
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
	managerMu      sync.RWMutex
)

// NewManager creates a logger manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		config:  cfg,
		loggers: make(map[string]*CtxZapLogger),
	}
}

// InitManager installs the global manager. Later GetLogger calls use it.
func InitManager(cfg ManagerConfig) {
	managerMu.Lock()
	defer managerMu.Unlock()
	defaultManager = NewManager(cfg)
}

// GetLogger returns the logger bound to module, creating it on first use.
func GetLogger(module string) *CtxZapLogger {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()

	if m == nil {
		managerOnce.Do(func() {
			managerMu.Lock()
			if defaultManager == nil {
				defaultManager = NewManager(DefaultManagerConfig())
			}
			managerMu.Unlock()
		})
		managerMu.RLock()
		m = defaultManager
		managerMu.RUnlock()
	}
	return m.GetLogger(module)
}

// GetLogger returns (and caches) the logger for the given module name.
func (m *Manager) GetLogger(module string) *CtxZapLogger {
	m.mu.RLock()
	if l, ok := m.loggers[module]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[module]; ok {
		return l
	}

	cfg := m.buildModuleConfig(module)
	base := m.createLogger(cfg).With(zap.String("module", module))

	l := &CtxZapLogger{
		base:   base,
		module: module,
		config: &m.config,
	}
	m.loggers[module] = l
	return l
}

// buildModuleConfig derives the module configuration from the manager config.
func (m *Manager) buildModuleConfig(module string) Config {
	level := m.config.Level
	if override, ok := m.config.ModuleLevels[module]; ok && override != "" {
		level = override
	}
	return Config{
		Level:         level,
		Encoding:      m.config.Encoding,
		EnableConsole: m.config.EnableConsole,
		EnableFile:    m.config.EnableFile,
		moduleName:    module,
		logDir:        m.config.BaseLogDir,
		MaxSize:       m.config.MaxSize,
		MaxBackups:    m.config.MaxBackups,
		MaxAge:        m.config.MaxAge,
		Compress:      m.config.Compress,
		EnableCaller:  m.config.EnableCaller,
	}
}

// createLogger assembles the zap cores for one module.
func (m *Manager) createLogger(cfg Config) *zap.Logger {
	level := parseLevel(cfg.Level)
	encoder := createEncoder(cfg)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}
	if cfg.EnableFile {
		filename := filepath.Join(cfg.logDir, cfg.moduleName+".log")
		writer, lj := createFileWriter(filename, cfg)
		m.writers = append(m.writers, lj)
		cores = append(cores, zapcore.NewCore(encoder, writer, level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		// Skip the CtxZapLogger wrapper frame.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	return zap.New(zapcore.NewTee(cores...), opts...)
}

// CloseAll flushes and closes file writers. Safe to call more than once.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loggers {
		_ = l.base.Sync()
	}
	for _, w := range m.writers {
		_ = w.Close()
	}
	m.writers = nil
}

// CloseAll closes the global manager's writers.
func CloseAll() {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()
	if m != nil {
		m.CloseAll()
	}
}

func createEncoder(cfg Config) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	if cfg.Encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

func createFileWriter(filename string, cfg Config) (zapcore.WriteSyncer, *lumberjack.Logger) {
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.AddSync(lj), lj
}
