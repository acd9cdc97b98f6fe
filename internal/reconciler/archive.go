package reconciler

import "path/filepath"

// archive runs Phase 3 (spec.md §4.7 Phase 3): move every consumed
// report into its sibling _archive/ directory. A failure here is
// logged and retried on a later pass; it never aborts the current one.
func (r *Reconciler) archive(ps *passState, res *Result) {
	for path := range ps.toArchive {
		exists, err := r.gw.Exists(path)
		if err != nil {
			logf("archive stat %s: %v", path, err)
			res.ArchiveFailures++
			continue
		}
		if !exists {
			continue
		}

		dst := filepath.Join(filepath.Dir(path), "_archive", filepath.Base(path))
		if err := r.gw.Move(path, dst); err != nil {
			logf("archive move %s: %v", path, err)
			res.ArchiveFailures++
			continue
		}
		res.Archived++
	}
}
