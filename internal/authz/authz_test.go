// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sigil-dev/medrag/internal/authz"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthorizer struct {
	allowed bool
	ids     []int64
	err     error
}

func (s stubAuthorizer) IsAllowed(context.Context, authz.Subject, string, authz.Resource) (bool, error) {
	return s.allowed, s.err
}

func (s stubAuthorizer) FilterAllowed(context.Context, authz.Subject, string, string) ([]int64, error) {
	return s.ids, s.err
}

func TestFailClosed_PassesThroughDecisions(t *testing.T) {
	fc := authz.NewFailClosed(stubAuthorizer{allowed: true, ids: []int64{3, 1}})
	ctx := context.Background()
	subject := authz.Subject{ID: "u1", Role: "nurse"}

	ok, err := fc.IsAllowed(ctx, subject, authz.ActionRead, authz.Resource{Type: authz.ResourceDocument, ID: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := fc.FilterAllowed(ctx, subject, authz.ActionRead, authz.ResourceDocument)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids)
}

func TestFailClosed_NilIDsBecomeEmpty(t *testing.T) {
	fc := authz.NewFailClosed(stubAuthorizer{})
	ids, err := fc.FilterAllowed(context.Background(), authz.Subject{ID: "u1"}, authz.ActionRead, authz.ResourceDocument)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestFailClosed_ErrorsDeny(t *testing.T) {
	inner := stubAuthorizer{
		allowed: true,
		ids:     []int64{1, 2},
		err:     mederr.New(mederr.CodeStoreDatabaseFailure, "database is locked"),
	}
	fc := authz.NewFailClosed(inner)
	ctx := context.Background()
	subject := authz.Subject{ID: "u1"}

	ok, err := fc.IsAllowed(ctx, subject, authz.ActionRead, authz.Resource{Type: authz.ResourceDocument, ID: 1})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, mederr.IsAuthorizationUnavailable(err))
	assert.Equal(t, 503, mederr.HTTPStatus(err))

	ids, err := fc.FilterAllowed(ctx, subject, authz.ActionRead, authz.ResourceDocument)
	require.Error(t, err)
	assert.Empty(t, ids)
	assert.True(t, mederr.IsAuthorizationUnavailable(err))
	assert.Contains(t, mederr.FieldsOf(err)["cause"], "database is locked")
}

func TestFailClosed_PlainErrorAndNilInner(t *testing.T) {
	fc := authz.NewFailClosed(stubAuthorizer{err: errors.New("connection refused")})
	_, err := fc.FilterAllowed(context.Background(), authz.Subject{ID: "u1"}, authz.ActionRead, authz.ResourceDocument)
	assert.True(t, mederr.IsAuthorizationUnavailable(err))

	none := authz.NewFailClosed(nil)
	ok, err := none.IsAllowed(context.Background(), authz.Subject{ID: "u1"}, authz.ActionRead, authz.Resource{Type: authz.ResourceDocument})
	assert.False(t, ok)
	assert.True(t, mederr.IsAuthorizationUnavailable(err))
}
