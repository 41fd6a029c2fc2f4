// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import "strings"

// Role selects the system instruction used for generation.
type Role string

const (
	RoleClinician     Role = "clinician"
	RoleNurse         Role = "nurse"
	RoleAdministrator Role = "administrator"
)

// FallbackRole is used for empty or unknown role names.
const FallbackRole = RoleAdministrator

// NoContextDisclaimer is appended to answers generated without any
// retrieved document context.
const NoContextDisclaimer = "\n\n*Note: This response was generated without specific document context. Please verify information with current medical guidelines.*"

// GenerationApology replaces the answer when generation fails.
const GenerationApology = "I apologize, but I'm unable to generate a response at this time."

var roleAliases = map[string]Role{
	"clinician":     RoleClinician,
	"doctor":        RoleClinician,
	"physician":     RoleClinician,
	"nurse":         RoleNurse,
	"administrator": RoleAdministrator,
	"admin":         RoleAdministrator,
}

// ResolveRole maps a role name or alias to a Role, case-insensitively.
func ResolveRole(name string) Role {
	if r, ok := roleAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r
	}
	return FallbackRole
}

// RoleResolver maps a role name or alias to the canonical role name used
// for authorization. authz.PolicyEngine satisfies it, which keeps prompt
// selection in step with a custom policy file.
type RoleResolver interface {
	Role(name string) (string, bool)
}

// Prompts maps each role to its system instruction.
type Prompts map[Role]string

// DefaultPrompts returns the built-in role instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		RoleClinician: "You are an AI assistant helping a doctor in a healthcare setting. " +
			"Provide accurate, professional medical information based on the provided context. " +
			"Always remind users to verify information and consult current medical guidelines.",
		RoleNurse: "You are an AI assistant helping a nurse in a healthcare setting. " +
			"Provide practical, relevant information for nursing care based on the provided context. " +
			"Focus on procedures, patient care, and safety protocols.",
		RoleAdministrator: "You are an AI assistant helping a healthcare administrator. " +
			"Provide information about policies, procedures, and administrative matters based on the provided context.",
	}
}

// For returns the instruction for role, falling back to FallbackRole's.
func (p Prompts) For(role string) string {
	if s, ok := p[ResolveRole(role)]; ok {
		return s
	}
	return p[FallbackRole]
}
