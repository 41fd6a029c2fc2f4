// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package authz

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Policy is the on-disk role policy.
type Policy struct {
	Roles map[string]RolePolicy `yaml:"roles"`
}

// RolePolicy grants capabilities to a role and scopes document access by
// attribute.
type RolePolicy struct {
	Aliases              []string `yaml:"aliases,omitempty"`
	Capabilities         []string `yaml:"capabilities"`
	OwnDepartmentOnly    bool     `yaml:"own_department_only,omitempty"`
	AssignedPatientsOnly bool     `yaml:"assigned_patients_only,omitempty"`
	AllowSensitive       bool     `yaml:"allow_sensitive,omitempty"`
}

// ParsePolicy decodes and validates a YAML policy. Unknown keys are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeAuthzPolicyInvalid, "parsing policy")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads a policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeAuthzPolicyInvalid, "reading policy file %s", path)
	}
	return ParsePolicy(data)
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic("authz: embedded default policy is invalid: " + err.Error())
	}
	return p
}

// Validate checks role names, alias collisions and capability patterns.
func (p *Policy) Validate() error {
	if len(p.Roles) == 0 {
		return mederr.New(mederr.CodeAuthzPolicyInvalid, "policy defines no roles")
	}

	seen := make(map[string]string)
	for name, role := range p.Roles {
		for _, n := range append([]string{name}, role.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" {
				return mederr.New(mederr.CodeAuthzPolicyInvalid, "empty role name or alias",
					mederr.Field("role", name))
			}
			if owner, dup := seen[key]; dup && owner != name {
				return mederr.New(mederr.CodeAuthzPolicyInvalid, "role name or alias defined twice",
					mederr.Field("name", key),
					mederr.Field("roles", []string{owner, name}),
				)
			}
			seen[key] = name
		}
		for _, c := range role.Capabilities {
			if err := ValidatePattern(c); err != nil {
				return err
			}
		}
	}
	return nil
}

type compiledRole struct {
	name   string
	caps   CapabilitySet
	policy RolePolicy
}

// PolicyEngine evaluates a Policy against document attributes read from a
// DocumentStore.
type PolicyEngine struct {
	docs  store.DocumentStore
	roles map[string]*compiledRole
}

var _ Authorizer = (*PolicyEngine)(nil)

// NewPolicyEngine compiles p. Roles are matched case-insensitively by name
// or alias; a subject with an unknown role is denied everything.
func NewPolicyEngine(p *Policy, docs store.DocumentStore) (*PolicyEngine, error) {
	if p == nil {
		return nil, mederr.New(mederr.CodeAuthzPolicyInvalid, "policy is nil")
	}
	if docs == nil {
		return nil, mederr.New(mederr.CodeAuthzPolicyInvalid, "document store is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	roles := make(map[string]*compiledRole)
	for name, rp := range p.Roles {
		caps, err := NewCapabilitySet(rp.Capabilities...)
		if err != nil {
			return nil, err
		}
		cr := &compiledRole{name: name, caps: caps, policy: rp}
		roles[strings.ToLower(name)] = cr
		for _, a := range rp.Aliases {
			roles[strings.ToLower(strings.TrimSpace(a))] = cr
		}
	}
	return &PolicyEngine{docs: docs, roles: roles}, nil
}

// Role resolves a role name or alias to its canonical name.
func (e *PolicyEngine) Role(name string) (string, bool) {
	r, ok := e.roles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return r.name, true
}

func (e *PolicyEngine) IsAllowed(ctx context.Context, subject Subject, action string, resource Resource) (bool, error) {
	role, ok := e.grant(subject, action, resource.Type)
	if !ok {
		return false, nil
	}
	if resource.Type != ResourceDocument || resource.ID == 0 {
		return true, nil
	}

	doc, err := e.docs.Get(ctx, resource.ID)
	if err != nil {
		if mederr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return role.permits(subject, doc), nil
}

func (e *PolicyEngine) FilterAllowed(ctx context.Context, subject Subject, action, resourceType string) ([]int64, error) {
	role, ok := e.grant(subject, action, resourceType)
	if !ok || resourceType != ResourceDocument {
		return []int64{}, nil
	}

	docs, err := e.docs.List(ctx, store.DocumentFilter{SkipContent: true})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		if role.permits(subject, d) {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (e *PolicyEngine) grant(subject Subject, action, resourceType string) (*compiledRole, bool) {
	role, ok := e.roles[strings.ToLower(strings.TrimSpace(subject.Role))]
	if !ok || subject.ID == "" {
		return nil, false
	}
	return role, role.caps.Contains(resourceType + "." + action)
}

// permits applies the attribute rules. Documents without a department or
// patient are not constrained by the corresponding rule.
func (r *compiledRole) permits(subject Subject, doc *store.Document) bool {
	if doc.Sensitive && !r.policy.AllowSensitive {
		return false
	}
	if r.policy.OwnDepartmentOnly && doc.Department != "" &&
		!strings.EqualFold(doc.Department, subject.Department) {
		return false
	}
	if r.policy.AssignedPatientsOnly && doc.PatientID != nil &&
		!slices.Contains(subject.PatientIDs, *doc.PatientID) {
		return false
	}
	return true
}
