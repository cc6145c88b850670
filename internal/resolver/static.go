package resolver

import (
	"context"

	"github.com/unclebandit/zapdispatch/internal/model"
)

// StaticDirectory is a fixed in-memory Directory, used when no database is
// configured.
type StaticDirectory struct {
	ContactsByTag map[int][]model.Contact
	Groups        []model.Group
}

func (d StaticDirectory) FindContactsByTagIDs(ctx context.Context, tagIDs []int) ([]model.Contact, error) {
	out := []model.Contact{}
	for _, id := range tagIDs {
		out = append(out, d.ContactsByTag[id]...)
	}
	return out, nil
}

func (d StaticDirectory) FindGroupsByIDs(ctx context.Context, ids []int) ([]model.Group, error) {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []model.Group{}
	for _, g := range d.Groups {
		if want[g.ID] {
			out = append(out, g)
		}
	}
	return out, nil
}

var _ Directory = StaticDirectory{}
