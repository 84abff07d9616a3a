package linking

import (
	"context"
	"fmt"

	"github.com/hazyhaar/sellersync/interactions/internal/store"
)

// RefreshBatch recomputes link candidates for every touched interaction and,
// one hop further, for every interaction appearing among their candidates.
// The hop bound keeps a new record's arrival from rippling across the whole
// table: an explicit worklist with a visited set, no recursion.
//
// Candidates are fully replaced under the preserved extra_data key, never
// appended to.
func (e *Engine) RefreshBatch(ctx context.Context, st *store.Store, touched []string) error {
	type work struct {
		id  string
		hop int
	}

	visited := make(map[string]bool, len(touched))
	worklist := make([]work, 0, len(touched))
	for _, id := range touched {
		if !visited[id] {
			visited[id] = true
			worklist = append(worklist, work{id: id})
		}
	}

	refreshed := 0
	for len(worklist) > 0 {
		w := worklist[0]
		worklist = worklist[1:]
		if err := ctx.Err(); err != nil {
			return err
		}

		in, err := st.GetInteraction(ctx, w.id)
		if err != nil {
			return fmt.Errorf("linking: load %s: %w", w.id, err)
		}
		if in == nil {
			continue
		}

		cands, err := e.Candidates(ctx, st, in)
		if err != nil {
			return err
		}
		if err := st.SetExtraKeys(ctx, in.ID, map[string]any{
			store.ExtraLinkCandidates: cands,
		}); err != nil {
			return fmt.Errorf("linking: persist candidates for %s: %w", in.ID, err)
		}
		refreshed++

		if w.hop == 0 {
			for _, c := range cands {
				if !visited[c.InteractionID] {
					visited[c.InteractionID] = true
					worklist = append(worklist, work{id: c.InteractionID, hop: 1})
				}
			}
		}
	}

	if refreshed > 0 {
		e.opts.Logger.Debug("linking: batch refreshed", "touched", len(touched), "refreshed", refreshed)
	}
	return nil
}
