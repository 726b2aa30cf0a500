package carrier

import (
	"sort"
	"sync"

	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("carrier")

// Registry maps carrier names and fingerprints to carriers. It is built once
// and read only afterwards, so lookups need no locking.
type Registry struct {
	byName        map[string]ICarrier
	byFingerprint map[string]IStreamCarrier
	names         []string
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Builtins returns new instances of all built-in carriers
func Builtins() []ICarrier {
	return []ICarrier{
		NewTCPCarrier(),
		NewFastTCPCarrier(),
		NewTextCarrier(),
		NewTextAckCarrier(),
		NewZstdDelegate(),
		NewSnappyDelegate(),
	}
}

// Default returns the registry of built-in carriers
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistry(Builtins()...)
		if err != nil {
			panic(err) // built-ins are static, this is a programming error
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// NewRegistry creates a registry from the given carriers. Stream carriers
// need a unique 8 byte fingerprint, delegates must declare that they modify data.
func NewRegistry(carriers ...ICarrier) (*Registry, error) {
	r := &Registry{
		byName:        make(map[string]ICarrier, len(carriers)),
		byFingerprint: make(map[string]IStreamCarrier, len(carriers)),
	}

	for _, c := range carriers {
		name := c.Name()
		if name == "" {
			return nil, common.NewError(common.CodeConfiguration, nil, "carrier without name")
		}
		if _, exists := r.byName[name]; exists {
			return nil, common.NewError(common.CodeConfiguration, nil, "duplicate carrier %q", name)
		}

		switch impl := c.(type) {
		case IStreamCarrier:
			if impl.Capabilities().IsDelegate() {
				return nil, common.NewError(common.CodeConfiguration, nil, "stream carrier %q must not modify data", name)
			}
			fp := impl.Fingerprint()
			if len(fp) != FingerprintSize {
				return nil, common.NewError(common.CodeConfiguration, nil, "carrier %q has a %d byte fingerprint", name, len(fp))
			}
			if other, exists := r.byFingerprint[string(fp)]; exists {
				return nil, common.NewError(common.CodeConfiguration, nil, "carriers %q and %q share a fingerprint", name, other.Name())
			}
			r.byFingerprint[string(fp)] = impl
		case IDelegate:
			if !impl.Capabilities().IsDelegate() {
				return nil, common.NewError(common.CodeConfiguration, nil, "delegate %q does not modify data", name)
			}
		default:
			return nil, common.NewError(common.CodeConfiguration, nil, "carrier %q is neither a stream carrier nor a delegate", name)
		}

		r.byName[name] = c
		r.names = append(r.names, name)
	}

	sort.Strings(r.names)
	Logger.Debugf("carrier registry built with %v", r.names)
	return r, nil
}

// Get returns the carrier registered under name
func (r *Registry) Get(name string) (ICarrier, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Primary returns the stream carrier registered under name. Delegates are
// rejected with a ConfigurationError.
func (r *Registry) Primary(name string) (IStreamCarrier, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, common.NewError(common.CodeUnknownCarrier, nil, "carrier %q is not registered", name)
	}
	stream, ok := c.(IStreamCarrier)
	if !ok {
		return nil, common.NewError(common.CodeConfiguration, nil,
			"carrier %q modifies data and can only be used as send or receive delegate", name)
	}
	return stream, nil
}

// Delegate returns the delegate registered under name
func (r *Registry) Delegate(name string) (IDelegate, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, common.NewError(common.CodeUnknownCarrier, nil, "delegate %q is not registered", name)
	}
	delegate, ok := c.(IDelegate)
	if !ok {
		return nil, common.NewError(common.CodeConfiguration, nil, "carrier %q cannot be used as delegate", name)
	}
	return delegate, nil
}

// Sniff returns the stream carrier whose fingerprint equals fp
func (r *Registry) Sniff(fp []byte) (IStreamCarrier, bool) {
	c, ok := r.byFingerprint[string(fp)]
	return c, ok
}

// Names returns the sorted names of all registered carriers
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// StreamNames returns the sorted names of all stream carriers
func (r *Registry) StreamNames() []string {
	var names []string
	for _, name := range r.names {
		if _, ok := r.byName[name].(IStreamCarrier); ok {
			names = append(names, name)
		}
	}
	return names
}
