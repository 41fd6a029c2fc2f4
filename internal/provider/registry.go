// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/sigil-dev/medrag/pkg/health"
)

// Registry manages generator registration and routes "provider/model"
// references with health-aware failover. It implements Generator.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	health     map[string]*HealthTracker

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// Compile-time check that Registry implements Generator.
var _ Generator = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		health:     make(map[string]*HealthTracker),
	}
}

// Register adds a generator under name, replacing any previous one.
func (r *Registry) Register(name string, g Generator) error {
	if name == "" || g == nil {
		return mederr.New(mederr.CodeProviderRequestInvalid, "register: name and generator are required")
	}
	h, err := NewHealthTracker(DefaultHealthCooldown)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = g
	r.health[name] = h
	return nil
}

// SetDefault sets the reference used when a request names no model.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered chain tried after the primary reference.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

func (r *Registry) checkRefLocked(ref string) error {
	provName, _, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if _, ok := r.generators[provName]; !ok {
		return mederr.New(
			mederr.CodeProviderNotFound,
			"provider not registered: "+provName,
			mederr.FieldProvider(provName),
		)
	}
	return nil
}

// Generate routes req to req.Model (or the default) and walks the failover
// chain on error. Healthy candidates are tried before ones in cooldown.
func (r *Registry) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	candidates, err := r.candidates(req.Model)
	if err != nil {
		return "", err
	}

	var lastErr error
	var lastName string
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return "", GenerationFailure(err, "generation cancelled")
		}

		routed := req
		routed.Model = c.model
		text, err := c.gen.Generate(ctx, routed)
		if err == nil {
			c.health.RecordSuccess()
			return text, nil
		}

		c.health.RecordFailure()
		lastErr, lastName = err, c.name
		slog.Warn("generation failed", "provider", c.name, "model", c.model, "error", err)
	}

	return "", GenerationFailure(lastErr, "all generation providers failed",
		mederr.FieldProvider(lastName),
		mederr.Field("attempted", len(candidates)),
	)
}

type candidate struct {
	name   string
	model  string
	gen    Generator
	health *HealthTracker
}

func (r *Registry) candidates(modelRef string) ([]candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := modelRef
	if primary == "" || primary == "default" {
		primary = r.defaultRef
	}
	if primary == "" {
		return nil, mederr.New(mederr.CodeProviderNotFound, "no default generation model configured")
	}

	refs := append([]string{primary}, r.failover...)
	seen := make(map[string]bool, len(refs))
	var healthy, cooling []candidate
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		name, model, err := ParseRef(ref)
		if err != nil {
			return nil, err
		}
		g, ok := r.generators[name]
		if !ok {
			return nil, mederr.New(mederr.CodeProviderNotFound, "provider not found: "+name, mederr.FieldProvider(name))
		}
		c := candidate{name: name, model: model, gen: g, health: r.health[name]}
		if c.health.IsHealthy() {
			healthy = append(healthy, c)
		} else {
			cooling = append(cooling, c)
		}
	}
	return append(healthy, cooling...), nil
}

// Health returns a snapshot per registered provider.
func (r *Registry) Health() map[string]health.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Metrics, len(r.health))
	for name, h := range r.health {
		out[name] = h.Metrics()
	}
	return out
}

// Close shuts down every registered generator that is also a Provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, g := range r.generators {
		if p, ok := g.(Provider); ok {
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return mederr.Join(errs...)
	}
	return nil
}

// ParseRef splits a "provider/model" reference on the first "/".
// Both parts must be non-empty.
func ParseRef(ref string) (providerName, model string, err error) {
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", mederr.Errorf(
			mederr.CodeProviderInvalidModelRef,
			"model reference %q must use provider/model format", ref,
		)
	}
	return ref[:idx], ref[idx+1:], nil
}
