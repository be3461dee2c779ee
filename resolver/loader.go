package resolver

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// FactorySignature is the construction contract every resolver satisfies.
const FactorySignature = "(*config.Config, *principal.Principal)"

var (
	// ErrNotFound means no resolver is registered under the configured name.
	ErrNotFound = errors.New("credentials resolver not found")
	// ErrContractMismatch is returned by factories that cannot work with the
	// configuration or principal they were given.
	ErrContractMismatch = errors.New("credentials resolver constructor does not match specification")
	// ErrNotInstantiable is returned by factories of resolvers that cannot be
	// constructed directly.
	ErrNotInstantiable = errors.New("credentials resolver is not instantiable")
	// ErrInitFailed wraps failures of a resolver's one-time initialisation.
	ErrInitFailed = errors.New("credentials resolver initialization failed")
)

// Factory builds a resolver from the session configuration and the calling
// principal.
type Factory func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error)

// Outcome classifies a load attempt.
type Outcome int

const (
	// OutcomeDefault: the sentinel name was configured, no lookup happened.
	OutcomeDefault Outcome = iota
	// OutcomeLoaded: the factory returned a resolver.
	OutcomeLoaded
	// OutcomeNotFound: no factory is registered under the name.
	OutcomeNotFound
	// OutcomeContractMismatch: the factory cannot use the configuration or
	// principal it was given.
	OutcomeContractMismatch
	// OutcomeNotInstantiable: there is no factory, or it built nothing.
	OutcomeNotInstantiable
	// OutcomeConstructorFailed: the factory returned an error or panicked.
	OutcomeConstructorFailed
	// OutcomeInitFailed: the one-time initialisation returned an error or
	// panicked.
	OutcomeInitFailed
	// OutcomeUnknownFailure: any other panic while loading.
	OutcomeUnknownFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDefault:
		return "default"
	case OutcomeLoaded:
		return "loaded"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeContractMismatch:
		return "contract-mismatch"
	case OutcomeNotInstantiable:
		return "not-instantiable"
	case OutcomeConstructorFailed:
		return "constructor-failed"
	case OutcomeInitFailed:
		return "init-failed"
	case OutcomeUnknownFailure:
		return "unknown-failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// LoadResult is the tagged outcome of Registry.Load. Resolver is only set
// when Outcome is OutcomeLoaded.
type LoadResult struct {
	Name     string
	Resolver CredentialsResolver
	Outcome  Outcome
	Err      error
}

// Failed reports whether loading a custom resolver was attempted and failed.
func (r LoadResult) Failed() bool {
	return r.Outcome != OutcomeDefault && r.Outcome != OutcomeLoaded
}

type registration struct {
	factory   Factory
	init      func() error
	once      sync.Once
	initErr   error
	initPanic any
}

func (r *registration) initialize() (panicked any, err error) {
	r.once.Do(func() {
		if r.init == nil {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				r.initPanic = rec
			}
		}()
		r.initErr = r.init()
	})
	return r.initPanic, r.initErr
}

// Registry maps configured resolver names to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	lookups atomic.Int64
}

// NewRegistry returns an empty registry. Most callers use DefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*registration{}}
}

// Register makes a factory available under name. It panics if name is the
// default sentinel or is already registered. A nil factory is accepted and
// reported as not instantiable when loaded.
func (r *Registry) Register(name string, factory Factory) {
	r.RegisterWithInit(name, nil, factory)
}

// RegisterWithInit is Register with a one-time initialisation that runs the
// first time the resolver is loaded. A failed initialisation fails every
// subsequent load of that name.
func (r *Registry) RegisterWithInit(name string, init func() error, factory Factory) {
	if name == "" || name == config.DefaultCredentialsResolver {
		panic(fmt.Sprintf("resolver: cannot register reserved name %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		panic("resolver: Register called twice for " + name)
	}
	r.entries[name] = &registration{factory: factory, init: init}
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.entries)
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*registration, bool) {
	r.lookups.Add(1)
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Load instantiates the resolver named by cfg.S3.CredentialsResolver. It
// never fails: every problem is logged and turned into a result without a
// resolver, which means the session uses the default credential chain.
func (r *Registry) Load(cfg *config.Config, p *principal.Principal) LoadResult {
	if cfg == nil {
		result := LoadResult{
			Outcome: OutcomeContractMismatch,
			Err:     errors.Wrap(ErrContractMismatch, "nil session configuration"),
		}
		result.log()
		return result
	}

	if cfg.UsesDefaultResolver() {
		slog.Debug("No custom credentials resolver configured, using default credential chain")
		return LoadResult{Name: config.DefaultCredentialsResolver, Outcome: OutcomeDefault}
	}

	name := cfg.S3.CredentialsResolver
	slog.Info("Loading credentials resolver", "resolver", name)
	result := r.load(name, cfg, p)
	result.log()
	return result
}

func (r *Registry) load(name string, cfg *config.Config, p *principal.Principal) (result LoadResult) {
	result.Name = name
	defer func() {
		if rec := recover(); rec != nil {
			result = LoadResult{
				Name:    name,
				Outcome: OutcomeUnknownFailure,
				Err:     errors.Errorf("panic while creating %v: %v", name, rec),
			}
		}
	}()

	reg, ok := r.lookup(name)
	if !ok {
		result.Outcome = OutcomeNotFound
		result.Err = errors.Wrapf(ErrNotFound, "%v (registered: %v)", name, r.Names())
		return result
	}

	if panicked, err := reg.initialize(); panicked != nil {
		result.Outcome = OutcomeInitFailed
		result.Err = errors.Wrapf(ErrInitFailed, "%v: panic: %v", name, panicked)
		return result
	} else if err != nil {
		result.Outcome = OutcomeInitFailed
		result.Err = errors.Wrapf(ErrInitFailed, "%v: %v", name, err)
		return result
	}

	if reg.factory == nil {
		result.Outcome = OutcomeNotInstantiable
		result.Err = errors.Wrapf(ErrNotInstantiable, "%v has no factory", name)
		return result
	}

	resolver, err := construct(reg.factory, cfg, p)
	switch {
	case err != nil && errors.Is(err, ErrContractMismatch):
		result.Outcome = OutcomeContractMismatch
		result.Err = err
	case err != nil && errors.Is(err, ErrNotInstantiable):
		result.Outcome = OutcomeNotInstantiable
		result.Err = err
	case err != nil:
		result.Outcome = OutcomeConstructorFailed
		result.Err = err
	case resolver == nil:
		result.Outcome = OutcomeNotInstantiable
		result.Err = errors.Wrapf(ErrNotInstantiable, "%v factory returned no resolver", name)
	default:
		result.Outcome = OutcomeLoaded
		result.Resolver = resolver
	}
	return result
}

// construct runs the factory, turning a panic into a constructor error.
func construct(factory Factory, cfg *config.Config, p *principal.Principal) (resolver CredentialsResolver, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resolver = nil
			err = errors.Errorf("constructor panicked: %v", rec)
		}
	}()
	return factory(cfg, p)
}

func (r LoadResult) log() {
	switch r.Outcome {
	case OutcomeLoaded:
		slog.Info("Loaded credentials resolver", "resolver", r.Name)
	case OutcomeNotFound:
		slog.Error("Credentials resolver not found, using default credential chain",
			"resolver", r.Name,
			"error", r.Err)
	case OutcomeContractMismatch:
		slog.Error("Credentials resolver constructor does not match specification, using default credential chain",
			"resolver", r.Name,
			"expected", FactorySignature,
			"error", r.Err)
	case OutcomeNotInstantiable:
		slog.Error("Credentials resolver cannot be instantiated, only concrete implementations can be loaded; using default credential chain",
			"resolver", r.Name,
			"error", r.Err)
	case OutcomeConstructorFailed:
		slog.Error("Credentials resolver constructor failed, using default credential chain",
			"resolver", r.Name,
			"error", r.Err)
	case OutcomeInitFailed:
		slog.Error("Failure occurred during initialization of credentials resolver, using default credential chain",
			"resolver", r.Name,
			"error", r.Err)
	case OutcomeUnknownFailure:
		slog.Error("Unknown failure: unable to create credentials resolver, using default credential chain",
			"resolver", r.Name,
			"error", r.Err)
	}
}

// DefaultRegistry holds the resolvers registered by imported packages.
var DefaultRegistry = NewRegistry()

// Register adds a factory to DefaultRegistry. Resolver packages call it from init.
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// RegisterWithInit adds a factory with one-time initialisation to DefaultRegistry.
func RegisterWithInit(name string, init func() error, factory Factory) {
	DefaultRegistry.RegisterWithInit(name, init, factory)
}

// Load runs DefaultRegistry.Load.
func Load(cfg *config.Config, p *principal.Principal) LoadResult {
	return DefaultRegistry.Load(cfg, p)
}

// GetCredentialsResolver returns the session's resolver or nil when the
// default credential chain should be used. Call it once per session.
func GetCredentialsResolver(cfg *config.Config, p *principal.Principal) CredentialsResolver {
	return Load(cfg, p).Resolver
}
