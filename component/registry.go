package component

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const optionalPrefix = "optional:"

// Registry holds components and runs their lifecycle in dependency order.
// Components are resolved into topological layers; members of one layer are
// initialized and started concurrently, and stopped in reverse order.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	order      []string // registration order, for deterministic layering
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
	}
}

// Register adds a component. Duplicate names are rejected.
func (r *Registry) Register(comp Component) error {
	if comp == nil {
		return fmt.Errorf("component must not be nil")
	}
	name := comp.Name()
	if name == "" {
		return fmt.Errorf("component name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}
	r.components[name] = comp
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers a component and panics on failure. Used for core
// components where a registration error means a programming bug.
func (r *Registry) MustRegister(comp Component) {
	if err := r.Register(comp); err != nil {
		panic(fmt.Sprintf("register component %q: %v", comp.Name(), err))
	}
}

// Get returns the registered component, if any.
func (r *Registry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	comp, ok := r.components[name]
	return comp, ok
}

// MustGet returns the component or panics.
func (r *Registry) MustGet(name string) Component {
	comp, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("component %q not registered", name))
	}
	return comp
}

// Has reports whether a component is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Resolve returns the components in topological order.
func (r *Registry) Resolve() ([]Component, error) {
	layers, err := r.resolveLayers()
	if err != nil {
		return nil, err
	}
	var out []Component
	for _, layer := range layers {
		out = append(out, layer...)
	}
	return out, nil
}

// resolveLayers performs Kahn-style layering over the dependency graph.
func (r *Registry) resolveLayers() ([][]Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Effective dependencies: missing optional deps drop out; missing
	// mandatory deps are an error.
	deps := make(map[string][]string, len(r.components))
	for name, comp := range r.components {
		for _, dep := range comp.DependsOn() {
			if strings.HasPrefix(dep, optionalPrefix) {
				optName := strings.TrimPrefix(dep, optionalPrefix)
				if _, ok := r.components[optName]; ok {
					deps[name] = append(deps[name], optName)
				}
				continue
			}
			if _, ok := r.components[dep]; !ok {
				return nil, fmt.Errorf("component %q depends on unregistered %q", name, dep)
			}
			deps[name] = append(deps[name], dep)
		}
	}

	placed := make(map[string]bool, len(r.components))
	var layers [][]Component
	remaining := len(r.components)

	for remaining > 0 {
		var layerNames []string
		for _, name := range r.order {
			if placed[name] {
				continue
			}
			ready := true
			for _, dep := range deps[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layerNames = append(layerNames, name)
			}
		}
		if len(layerNames) == 0 {
			var stuck []string
			for _, name := range r.order {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("dependency cycle among components: %s", strings.Join(stuck, ", "))
		}

		layer := make([]Component, 0, len(layerNames))
		for _, name := range layerNames {
			placed[name] = true
			layer = append(layer, r.components[name])
		}
		layers = append(layers, layer)
		remaining -= len(layer)
	}
	return layers, nil
}

// Init initializes all components layer by layer. Components in the same
// layer run concurrently.
func (r *Registry) Init(ctx context.Context, loader ConfigLoader) error {
	layers, err := r.resolveLayers()
	if err != nil {
		return err
	}
	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		for _, comp := range layer {
			g.Go(func() error {
				if err := comp.Init(gctx, loader); err != nil {
					return fmt.Errorf("init %s: %w", comp.Name(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Start starts all components layer by layer.
func (r *Registry) Start(ctx context.Context) error {
	layers, err := r.resolveLayers()
	if err != nil {
		return err
	}
	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		for _, comp := range layer {
			g.Go(func() error {
				if err := comp.Start(gctx); err != nil {
					return fmt.Errorf("start %s: %w", comp.Name(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops components in reverse layer order. Stop errors are collected
// but do not prevent remaining components from stopping.
func (r *Registry) Stop(ctx context.Context) error {
	layers, err := r.resolveLayers()
	if err != nil {
		return err
	}

	var errs []string
	for i := len(layers) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, comp := range layers[i] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := comp.Stop(ctx); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Sprintf("%s: %v", comp.Name(), err))
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}
	if len(errs) > 0 {
		return fmt.Errorf("stop components: %s", strings.Join(errs, "; "))
	}
	return nil
}
