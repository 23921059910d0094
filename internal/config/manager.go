package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocx/botdetect/internal/policy"
)

// PolicyManager owns the on-disk policies.yaml path and the live Registry
// built from it, and knows how to reload the registry from disk on demand
// (admin API "reload policies" endpoint) without taking the engine down.
//
// This engine has one tenant per deployment but many path-scoped
// policies, so the thing worth hot-swapping is the route table, not a
// tenant config tree.
type PolicyManager struct {
	mu   sync.Mutex
	path string
	reg  *policy.Registry
}

// NewPolicyManagerFromRegistry wraps an already-built Registry for
// deployments that start without a policies.yaml file. Reload is a no-op
// in this mode since there is no backing file to re-read.
func NewPolicyManagerFromRegistry(reg *policy.Registry) *PolicyManager {
	return &PolicyManager{reg: reg}
}

// NewPolicyManager loads path once and wires an initial Registry.
func NewPolicyManager(path string) (*PolicyManager, error) {
	routes, actions, deflt, err := policy.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy file: %w", err)
	}
	return &PolicyManager{
		path: path,
		reg:  policy.NewRegistry(routes, actions, deflt),
	}, nil
}

// Registry returns the live registry. Callers should hold onto this value
// rather than re-fetching per-request; Reload mutates it in place via
// atomic swap, it does not replace the pointer.
func (m *PolicyManager) Registry() *policy.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg
}

// Reload re-reads the policy file from disk and atomically swaps the
// registry's snapshot. Returns an error (and leaves the previous snapshot
// live) if the file fails to parse. Without a backing file it returns nil
// and leaves the registry unchanged.
func (m *PolicyManager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return nil
	}

	routes, actions, deflt, err := policy.LoadFile(m.path)
	if err != nil {
		return fmt.Errorf("reload policy file: %w", err)
	}
	m.reg.Reload(routes, actions, deflt)
	slog.Info("policy registry reloaded", "path", m.path, "routes", len(routes), "action_policies", len(actions))
	return nil
}
