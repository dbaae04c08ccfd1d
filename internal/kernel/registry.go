// Package kernel holds the per-replicate simulators a run can dispatch: the
// built-in reference simulators and an adapter for external programs.
package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
)

var (
	ErrKernelExists       = errors.New("kernel already registered")
	ErrKernelNotFound     = errors.New("kernel not found")
	ErrKernelIncompatible = errors.New("kernel incompatible with scenario")
)

// Options configure kernels that need more than the task itself.
type Options struct {
	RunID       string
	ExecCommand string
	ExecArgs    []string
	ExecDir     string
}

type Factory func(opts Options) (dispatch.Kernel, error)

type CompatibilityFn func(sc model.Scenario) error

type Spec struct {
	Name        string
	Description string
	Tables      []string
	Factory     Factory
	Compatible  CompatibilityFn
}

type Registry struct {
	mu sync.RWMutex
	m  map[string]Spec
}

// NewRegistry returns a registry holding the built-in kernels.
func NewRegistry() *Registry {
	r := &Registry{m: make(map[string]Spec)}
	for _, spec := range builtins() {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("kernel name is required")
	}
	if spec.Factory == nil {
		return fmt.Errorf("kernel %s: factory is required", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrKernelExists, spec.Name)
	}
	r.m[spec.Name] = spec
	return nil
}

func (r *Registry) Spec(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.m[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrKernelNotFound, name)
	}
	return spec, nil
}

// Resolve builds the kernel and checks it accepts every scenario.
func (r *Registry) Resolve(name string, opts Options, scenarios []model.Scenario) (dispatch.Kernel, error) {
	spec, err := r.Spec(name)
	if err != nil {
		return nil, err
	}
	if spec.Compatible != nil {
		for _, sc := range scenarios {
			if err := spec.Compatible(sc); err != nil {
				return nil, fmt.Errorf("%w: %s on %s: %v", ErrKernelIncompatible, name, sc.Key(), err)
			}
		}
	}
	return spec.Factory(opts)
}

func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.m))
	for _, spec := range r.m {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func builtins() []Spec {
	return []Spec{
		{
			Name:        WFFixationName,
			Description: "binomial Wright-Fisher sweep of a new mutation, conditioned on fixation",
			Tables:      []string{model.TableFixationTimes},
			Factory:     staticFactory(WFFixation),
			Compatible:  wfFixationCompatible,
		},
		{
			Name:        PRFSFSName,
			Description: "Wright-Fisher infinite-sites site frequency spectrum and diversity",
			Tables:      []string{model.TableSFS, model.TableDiversity},
			Factory:     staticFactory(PRFSFS),
			Compatible:  prfCompatible,
		},
		{
			Name:        IMFstName,
			Description: "two-deme isolation with migration, Hudson Fst and marginal spectra",
			Tables:      []string{model.TableFst, model.TableSFS},
			Factory:     staticFactory(IMFst),
			Compatible:  imCompatible,
		},
		{
			Name:        ExecName,
			Description: "external simulator reading a JSON task on stdin and writing JSON rows",
			Factory:     execFactory,
		},
	}
}

func staticFactory(k dispatch.Kernel) Factory {
	return func(Options) (dispatch.Kernel, error) { return k, nil }
}
