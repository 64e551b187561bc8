// Package registry resolves module identifiers to their compiled
// contracts: port visibility, deliverables, dependency edges, kind, and
// runtime requirements. Contracts are produced by the maintenance tool and
// read-only at run time.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
)

// Kind categorizes a module's role in a workorder.
type Kind string

const (
	KindAcquisition Kind = "acquisition"
	KindTransform   Kind = "transform"
	KindPackaging   Kind = "packaging"
	KindDelivery    Kind = "delivery"
)

// ValidKind reports whether k is one of the four module kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindAcquisition, KindTransform, KindPackaging, KindDelivery:
		return true
	}
	return false
}

var (
	// ErrUnknownModule is returned for module IDs with no catalog entry.
	// Fatal: a workorder naming an unknown module is never executed.
	ErrUnknownModule = errors.New("registry: unknown module")
	// ErrBadContract is returned when catalog rows do not compile into a
	// well-formed contract.
	ErrBadContract = errors.New("registry: malformed module contract")
)

// PortSet declares the inputs and outputs on one side of the visibility
// boundary.
type PortSet struct {
	Inputs  []string
	Outputs []string
}

// Ports splits a module's surface into the tenant-visible part and the
// platform-only part.
type Ports struct {
	TenantVisible PortSet
	PlatformOnly  PortSet

	// ForwardedOutputs are platform-only outputs explicitly allowed to be
	// read by later steps.
	ForwardedOutputs []string
}

// Deliverable is a named, individually priced output facet.
type Deliverable struct {
	ID string
	// LimitedInputs are platform-injected parameter values that scope the
	// module run to this deliverable. They override tenant-supplied values
	// for the same keys.
	LimitedInputs map[string]any
}

// Requirements lists the secrets and vars a module needs resolved before
// execution.
type Requirements struct {
	Secrets []string
	Vars    []string
}

// Contract is a module's immutable compiled interface.
type Contract struct {
	ModuleID     string
	Version      string
	Kind         Kind
	DependsOn    []string
	Ports        Ports
	Deliverables map[string]Deliverable
	Requirements Requirements
	SelfTest     string

	SupportsDownloadableArtifacts bool
}

// HasTenantInput reports whether name is a tenant-visible input.
func (c Contract) HasTenantInput(name string) bool {
	return contains(c.Ports.TenantVisible.Inputs, name)
}

// HasPlatformInput reports whether name is a platform-only input.
func (c Contract) HasPlatformInput(name string) bool {
	return contains(c.Ports.PlatformOnly.Inputs, name)
}

// ReadableOutput reports whether later steps may bind to output name:
// tenant-visible outputs always, platform-only outputs only under an
// explicit forwarding allowance.
func (c Contract) ReadableOutput(name string) bool {
	if contains(c.Ports.TenantVisible.Outputs, name) {
		return true
	}
	return contains(c.Ports.ForwardedOutputs, name)
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

// Registry indexes contracts by module ID in match form.
type Registry struct {
	contracts map[string]Contract
}

// New builds a registry from compiled contracts.
func New(contracts []Contract) (*Registry, error) {
	r := &Registry{contracts: make(map[string]Contract, len(contracts))}
	for _, c := range contracts {
		key, err := ident.CanonicalForMatch(c.ModuleID)
		if err != nil {
			return nil, fmt.Errorf("%w: module id: %v", ErrBadContract, err)
		}
		if !ValidKind(c.Kind) {
			return nil, fmt.Errorf("%w: module %s kind %q", ErrBadContract, c.ModuleID, c.Kind)
		}
		r.contracts[key] = c
	}
	return r, nil
}

// Contracts returns every registered contract sorted by match-form module
// ID.
func (r *Registry) Contracts() []Contract {
	keys := make([]string, 0, len(r.contracts))
	for k := range r.contracts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Contract, len(keys))
	for i, k := range keys {
		out[i] = r.contracts[k]
	}
	return out
}

// GetContract resolves a module ID to its contract.
func (r *Registry) GetContract(moduleID string) (Contract, error) {
	key, err := ident.CanonicalForMatch(moduleID)
	if err != nil {
		return Contract{}, fmt.Errorf("registry: module id: %w", err)
	}
	c, ok := r.contracts[key]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	return c, nil
}

// GetPorts returns (tenant inputs, platform inputs, tenant outputs).
func (r *Registry) GetPorts(moduleID string) (tenantIn, platformIn, tenantOut []string, err error) {
	c, err := r.GetContract(moduleID)
	if err != nil {
		return nil, nil, nil, err
	}
	return c.Ports.TenantVisible.Inputs, c.Ports.PlatformOnly.Inputs, c.Ports.TenantVisible.Outputs, nil
}

// GetDeliverables returns the deliverable map for a module.
func (r *Registry) GetDeliverables(moduleID string) (map[string]Deliverable, error) {
	c, err := r.GetContract(moduleID)
	if err != nil {
		return nil, err
	}
	return c.Deliverables, nil
}
