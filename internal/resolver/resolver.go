// Package resolver expands a SendJob into concrete, deduplicated targets.
package resolver

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/phone"
)

// Directory is the read side of the persistence collaborator.
type Directory interface {
	FindGroupsByIDs(ctx context.Context, ids []int) ([]model.Group, error)
	FindContactsByTagIDs(ctx context.Context, tagIDs []int) ([]model.Contact, error)
}

// Providers reports which transports can take targets right now.
type Providers interface {
	Configured(p model.Provider) bool
	DirectConnected(ctx context.Context) (bool, error)
}

type Resolver struct {
	Directory Directory
	Providers Providers
}

func New(dir Directory, providers Providers) *Resolver {
	return &Resolver{Directory: dir, Providers: providers}
}

// Resolve has no side effects. Individuals come first (explicit numbers, then
// tag matches), groups last; each normalized address appears once.
func (r *Resolver) Resolve(ctx context.Context, job *model.SendJob) ([]model.ResolvedTarget, error) {
	individualProvider := model.ProviderOfficial
	if job.Hint == model.HintGroup {
		individualProvider = model.ProviderDirect
	}

	seen := map[string]bool{}
	var targets []model.ResolvedTarget
	add := func(t model.ResolvedTarget) {
		if t.Address == "" || seen[t.Key()] {
			return
		}
		seen[t.Key()] = true
		targets = append(targets, t)
	}

	for _, raw := range job.Targets.Numbers {
		add(model.ResolvedTarget{Kind: model.TargetIndividual, Address: phone.Normalize(raw), Provider: individualProvider})
	}

	if ids := uniqueIDs(job.Targets.TagIDs); len(ids) > 0 {
		contacts, err := r.Directory.FindContactsByTagIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("find contacts by tags: %w", err)
		}
		for _, c := range contacts {
			add(model.ResolvedTarget{Kind: model.TargetIndividual, Address: phone.Normalize(c.Phone), Provider: individualProvider})
		}
	}

	hasGroups := false
	if ids := uniqueIDs(job.Targets.GroupIDs); len(ids) > 0 {
		groups, err := r.Directory.FindGroupsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("find groups: %w", err)
		}
		for _, g := range groups {
			if g.RemoteID == "" {
				continue
			}
			hasGroups = true
			add(model.ResolvedTarget{Kind: model.TargetGroup, Address: g.RemoteID, Provider: model.ProviderDirect})
		}
	}

	if len(targets) == 0 {
		return nil, appErrors.NewNoTargets(job.ID)
	}

	if hasGroups {
		ok, err := r.Providers.DirectConnected(ctx)
		if err != nil {
			return nil, appErrors.NewProviderUnavailable(string(model.ProviderDirect), err.Error())
		}
		if !ok {
			return nil, appErrors.NewProviderUnavailable(string(model.ProviderDirect), "no connected instance for group targets")
		}
	}
	if hasIndividuals(targets) && !r.Providers.Configured(individualProvider) {
		return nil, appErrors.NewProviderUnavailable(string(individualProvider), "provider not configured")
	}

	return targets, nil
}

func hasIndividuals(targets []model.ResolvedTarget) bool {
	for _, t := range targets {
		if t.Kind == model.TargetIndividual {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
