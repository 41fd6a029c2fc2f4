// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package authz decides which documents a subject may act on. The retrieval
// core only talks to the Authorizer interface; PolicyEngine is the bundled
// local implementation and FailClosed turns any decision failure into a
// denial.
package authz

import (
	"context"
	"log/slog"

	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Actions understood by the bundled policy engine.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// ResourceDocument is the only resource type the retrieval core asks about.
const ResourceDocument = "document"

// Subject is the authenticated caller as described by the upstream
// identity system.
type Subject struct {
	ID         string
	Role       string
	Department string
	// PatientIDs lists the patients assigned to the subject.
	PatientIDs []int64
}

// Resource identifies the target of a decision. ID zero means "a new
// resource of this type", which is decided on capability alone.
type Resource struct {
	Type string
	ID   int64
}

// Authorizer is a policy decision point.
type Authorizer interface {
	IsAllowed(ctx context.Context, subject Subject, action string, resource Resource) (bool, error)
	// FilterAllowed returns the IDs of every resource of resourceType the
	// subject may perform action on.
	FilterAllowed(ctx context.Context, subject Subject, action, resourceType string) ([]int64, error)
}

// FailClosed wraps an Authorizer so that any failure denies access and is
// reported as an authorization-unavailable error.
type FailClosed struct {
	inner Authorizer
}

var _ Authorizer = (*FailClosed)(nil)

// NewFailClosed wraps inner. A nil inner denies everything.
func NewFailClosed(inner Authorizer) *FailClosed {
	return &FailClosed{inner: inner}
}

func (f *FailClosed) IsAllowed(ctx context.Context, subject Subject, action string, resource Resource) (bool, error) {
	if f.inner == nil {
		return false, unavailable(nil, subject, action)
	}
	ok, err := f.inner.IsAllowed(ctx, subject, action, resource)
	if err != nil {
		return false, unavailable(err, subject, action)
	}
	return ok, nil
}

// FilterAllowed never returns nil IDs; an empty slice means nothing is allowed.
func (f *FailClosed) FilterAllowed(ctx context.Context, subject Subject, action, resourceType string) ([]int64, error) {
	if f.inner == nil {
		return []int64{}, unavailable(nil, subject, action)
	}
	ids, err := f.inner.FilterAllowed(ctx, subject, action, resourceType)
	if err != nil {
		return []int64{}, unavailable(err, subject, action)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// unavailable builds a fresh coded error so an inner store or transport
// code cannot shadow the authorization classification.
func unavailable(cause error, subject Subject, action string) error {
	msg := "authorization decision unavailable"
	fields := []mederr.Attr{
		mederr.FieldSubjectID(subject.ID),
		mederr.Field("action", action),
	}
	if cause != nil {
		fields = append(fields, mederr.Field("cause", cause.Error()))
	} else {
		fields = append(fields, mederr.Field("cause", "no authorizer configured"))
	}

	slog.Warn("authorization failed closed",
		"subject_id", subject.ID,
		"action", action,
		"error", cause,
	)
	return mederr.New(mederr.CodeAuthzUnavailable, msg, fields...)
}
