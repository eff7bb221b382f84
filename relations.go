package redom

import (
	"context"
	"sort"

	pkgerrors "github.com/pkg/errors"
)

// RelatedIDs returns the member ids of a relation set, page-sliced per
// the options. Sets are unordered; ids are sorted before slicing so
// paging is deterministic (time-ordered ids make this creation order).
func (r *Repo[T]) RelatedIDs(ctx context.Context, alias, leftID string, opts RelationQueryOptions) ([]string, error) {
	ids, err := r.client.rdb.SMembers(ctx, r.RelationKey(alias, leftID)).Result()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "relation members")
	}
	return pageRelatedIDs(ids, opts), nil
}

func pageRelatedIDs(ids []string, opts RelationQueryOptions) []string {
	sort.Strings(ids)

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]

	limit := opts.EffectiveLimit()
	if limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

// RelatedCount returns the size of a relation set.
func (r *Repo[T]) RelatedCount(ctx context.Context, alias, leftID string) (int64, error) {
	n, err := r.client.rdb.SCard(ctx, r.RelationKey(alias, leftID)).Result()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "relation count")
	}
	return n, nil
}

// GetRelated resolves a relation of parents into child documents.
// Members whose documents have been removed out-of-band are skipped.
// Sort and filter options beyond paging belong to the search surface.
func GetRelated[P, C Model](ctx context.Context, parents *Repo[P], children *Repo[C], alias, leftID string, opts RelationQueryOptions) ([]C, error) {
	ids, err := parents.RelatedIDs(ctx, alias, leftID, opts)
	if err != nil {
		return nil, err
	}
	items := make([]C, 0, len(ids))
	for _, id := range ids {
		child, err := children.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if child != nil {
			items = append(items, *child)
		}
	}
	return items, nil
}
