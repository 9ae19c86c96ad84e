package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"briefline/internal/domain"
	"briefline/internal/repo"
)

// ResolveStage turns a stage reference into a concrete stage for a brief.
// A reference that parses as a UUID is looked up directly. Otherwise the
// brief's flow is searched case-insensitively, exact name first and then
// name prefix; ambiguous matches resolve to the first by name ASC, id ASC.
// An empty reference means the brief's current stage, or the flow's first
// stage when processing has not started.
func (e Engine) ResolveStage(ctx context.Context, b domain.Brief, ref string) (domain.Stage, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return e.defaultStage(ctx, b)
	}
	if uuid.Validate(ref) == nil {
		s, err := e.Repo.GetStage(ctx, ref)
		if err != nil {
			return domain.Stage{}, err
		}
		if b.FlowID != nil && s.FlowID != *b.FlowID {
			return domain.Stage{}, validationf("stage %s is not part of the brief's flow", ref)
		}
		return s, nil
	}
	if b.FlowID == nil {
		// No flow scope; fall back to a global name lookup.
		stages, err := e.Repo.FindStagesByName(ctx, ref)
		if err != nil {
			return domain.Stage{}, err
		}
		if len(stages) == 0 {
			return domain.Stage{}, repo.ErrNotFound
		}
		return stages[0], nil
	}
	stages, err := e.Repo.ListStages(ctx, *b.FlowID)
	if err != nil {
		return domain.Stage{}, err
	}
	if s, ok := matchStage(stages, ref); ok {
		return s, nil
	}
	return domain.Stage{}, repo.ErrNotFound
}

func matchStage(stages []domain.Stage, ref string) (domain.Stage, bool) {
	lowered := strings.ToLower(ref)
	var exact, prefixed []domain.Stage
	for _, s := range stages {
		name := strings.ToLower(s.Name)
		switch {
		case name == lowered:
			exact = append(exact, s)
		case strings.HasPrefix(name, lowered):
			prefixed = append(prefixed, s)
		}
	}
	candidates := exact
	if len(candidates) == 0 {
		candidates = prefixed
	}
	if len(candidates) == 0 {
		return domain.Stage{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

func (e Engine) defaultStage(ctx context.Context, b domain.Brief) (domain.Stage, error) {
	if b.CurrentStageID != nil {
		return e.Repo.GetStage(ctx, *b.CurrentStageID)
	}
	if b.FlowID == nil {
		return domain.Stage{}, validationf("brief %s has no flow; specify a stage", b.ID)
	}
	stages, err := e.Repo.ListStages(ctx, *b.FlowID)
	if err != nil {
		return domain.Stage{}, err
	}
	if len(stages) == 0 {
		return domain.Stage{}, repo.ErrNotFound
	}
	return stages[0], nil
}
