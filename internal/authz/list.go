// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package authz

import (
	"context"

	"github.com/sigil-dev/medrag/internal/store"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// ListReadable pages through the documents subject may read. The filter's
// IDs are replaced by the authorizer's allow-list; its attribute filters and
// paging are applied by the store. The result is never nil.
func ListReadable(ctx context.Context, az Authorizer, docs store.DocumentStore, subject Subject, filter store.DocumentFilter) ([]*store.Document, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, mederr.New(mederr.CodeStoreInvalidInput, "limit and offset must not be negative")
	}

	ids, err := az.FilterAllowed(ctx, subject, ActionRead, ResourceDocument)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*store.Document{}, nil
	}

	filter.IDs = ids
	list, err := docs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*store.Document{}
	}
	return list, nil
}
