package sessions

import "context"

// ReferencedArtifactHashes scans every session's event log and returns
// the set of artifact hashes still referenced by a tool_result event.
// Intended as the artifacts.ReferencedHashes source for the artifact GC
// sweep, kept here (rather than in package artifacts) so that package
// has no dependency on the session store.
func ReferencedArtifactHashes(ctx context.Context, store Store) (map[string]bool, error) {
	sessionList, err := store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool)
	for _, s := range sessionList {
		events, err := store.ReadEvents(ctx, s.ID, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if e.ToolResultEvent == nil {
				continue
			}
			for _, hash := range e.ToolResultEvent.ArtifactRefs {
				live[hash] = true
			}
		}
	}
	return live, nil
}
