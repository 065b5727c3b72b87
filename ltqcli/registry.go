// Package ltqcli implements the LTQ command-line surface described by the
// spec's §6 External Interfaces: run, clear, size. It is built with
// github.com/spf13/cobra, the subcommand-tree library oriys-nova uses for
// its nova/comet/corona/aurora/zenith command families.
//
// Go binaries cannot resolve a "module:symbol" string to a function pointer
// at runtime the way a dynamically-loaded language can, so "target
// resolution" (spec §6) is implemented as an explicit in-process Registry:
// the embedding application registers its Workers and Apps under a name
// (typically in an init() of the package that builds them), and `run
// <target>` looks the name up in that Registry. This is the idiomatic Go
// substitute for the spec's dynamic "module:symbol" target — the binary
// must have imported the package doing the registering, which is exactly
// what a Celery-style "module:symbol" import does at CLI startup anyway.
package ltqcli

import "fmt"

// BuildOptions carries the `run` command's CLI-level overrides down into a
// registered builder. A zero field means "no override, use whatever the
// builder's own config/defaults say": Concurrency 0 leaves the builder's
// concurrency untouched, and an empty BrokerURL leaves the builder's own
// broker selection untouched.
type BuildOptions struct {
	Concurrency int
	BrokerURL   string
}

// WorkerBuilder constructs a ready-to-run Worker (tasks already registered),
// applying opts as overrides on top of whatever defaults the builder itself
// would otherwise use.
type WorkerBuilder func(opts BuildOptions) (Runnable, error)

// AppBuilder constructs a ready-to-run App (workers already registered),
// applying opts the same way WorkerBuilder does.
type AppBuilder func(opts BuildOptions) (Runnable, error)

// Registry holds the named Worker/App builders `run <target>` and `run
// --app <target>` resolve against.
type Registry struct {
	workers map[string]WorkerBuilder
	apps    map[string]AppBuilder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]WorkerBuilder),
		apps:    make(map[string]AppBuilder),
	}
}

// Register binds name to a Worker builder for `run <name>`.
func (r *Registry) Register(name string, build WorkerBuilder) {
	r.workers[name] = build
}

// RegisterApp binds name to an App builder for `run --app <name>`.
func (r *Registry) RegisterApp(name string, build AppBuilder) {
	r.apps[name] = build
}

// ResolveWorker looks up a Worker builder by target name.
func (r *Registry) ResolveWorker(target string) (WorkerBuilder, error) {
	b, ok := r.workers[target]
	if !ok {
		return nil, fmt.Errorf("ltqcli: no worker registered under target %q", target)
	}
	return b, nil
}

// ResolveApp looks up an App builder by target name.
func (r *Registry) ResolveApp(target string) (AppBuilder, error) {
	b, ok := r.apps[target]
	if !ok {
		return nil, fmt.Errorf("ltqcli: no app registered under target %q", target)
	}
	return b, nil
}
