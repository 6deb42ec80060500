package orchestrator

import (
	"github.com/samber/do/v2"

	"github.com/acgov/go-mesh/config"
	"github.com/acgov/go-mesh/logger"
)

// Providers for wiring the orchestrator graph through samber/do. The
// binary registers these plus a *config.Loader and invokes *Orchestrator.

// ConfigOptions locates the configuration directory for the loader
// provider.
type ConfigOptions struct {
	Dir  string
	Mode string
}

// ProvideConfigLoader builds the layered config loader. No dependencies.
func ProvideConfigLoader(opts ConfigOptions) func(do.Injector) (*config.Loader, error) {
	return func(i do.Injector) (*config.Loader, error) {
		if opts.Dir == "" {
			opts.Dir = "./configs"
		}
		return config.NewLoaderFromDir(opts.Dir, opts.Mode)
	}
}

// ProvideLoggerManager reads the logger section, falling back to defaults
// when it is absent or malformed.
func ProvideLoggerManager(i do.Injector) (*logger.Manager, error) {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil {
		return logger.NewManager(logger.DefaultManagerConfig()), nil
	}

	cfg := logger.DefaultManagerConfig()
	if err := loader.Unmarshal("logger", &cfg); err != nil {
		return logger.NewManager(logger.DefaultManagerConfig()), nil
	}
	return logger.NewManager(cfg), nil
}

// ProvideLogger yields the named module logger.
func ProvideLogger(module string) func(do.Injector) (*logger.CtxZapLogger, error) {
	return func(i do.Injector) (*logger.CtxZapLogger, error) {
		mgr, err := do.Invoke[*logger.Manager](i)
		if err != nil {
			return logger.GetLogger(module), nil
		}
		return mgr.GetLogger(module), nil
	}
}

// ProvideConfig reads the mesh section over the mode preset, so config
// files only need to state what differs from the preset.
func ProvideConfig(i do.Injector) (Config, error) {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil {
		return Config{}, err
	}

	mode := Mode(loader.GetString("mesh.mode"))
	if mode == "" {
		mode = ModeProduction
	}
	cfg := PresetConfig(mode)
	if err := loader.Unmarshal("mesh", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ProvideOrchestrator assembles the component graph.
func ProvideOrchestrator(i do.Injector) (*Orchestrator, error) {
	cfg, err := do.Invoke[Config](i)
	if err != nil {
		return nil, err
	}
	log, err := do.Invoke[*logger.CtxZapLogger](i)
	if err != nil {
		return nil, err
	}
	return New(cfg, log)
}
