package syncengine

import mapset "github.com/deckarep/golang-set/v2"

// Op names one reconcile decision for a single key.
type Op int

const (
	OpNoop Op = iota
	OpUpload
	OpDownload
	OpDeleteLocal
	OpConflict
	OpCleanupJournal
)

// SyncOperation is one key's reconcile decision plus the three snapshots
// that produced it.
type SyncOperation struct {
	Op         Op
	Key        string
	Local      *FileMetadata
	Remote     *FileMetadata
	LastSynced *FileMetadata
}

// ReconcileResult buckets every key in the universe by the decision
// reconcile reached for it.
type ReconcileResult struct {
	Uploads        map[string]*SyncOperation
	Downloads      map[string]*SyncOperation
	LocalDeletes   map[string]*SyncOperation
	Conflicts      map[string]*SyncOperation
	Cleanups       map[string]struct{}
	UnchangedPaths map[string]struct{}
	Ignored        map[string]struct{}
}

func newReconcileResult() *ReconcileResult {
	return &ReconcileResult{
		Uploads:        make(map[string]*SyncOperation),
		Downloads:      make(map[string]*SyncOperation),
		LocalDeletes:   make(map[string]*SyncOperation),
		Conflicts:      make(map[string]*SyncOperation),
		Cleanups:       make(map[string]struct{}),
		UnchangedPaths: make(map[string]struct{}),
		Ignored:        make(map[string]struct{}),
	}
}

// HasChanges reports whether this tick found anything worth logging.
func (r *ReconcileResult) HasChanges() bool {
	return len(r.Uploads) > 0 || len(r.Downloads) > 0 || len(r.LocalDeletes) > 0 ||
		len(r.Conflicts) > 0 || len(r.Cleanups) > 0
}

// reconcile implements the diff rule from the local/remote/journal triple:
// unchanged, upload, download, delete_local, conflict, or journal cleanup.
// Remote-side deletion is never derived here — the remote keyspace has no
// delete call in this daemon's API, so a file deleted locally that the
// journal and the remote still hold is simply re-downloaded (remote stays
// authoritative).
func (e *Engine) reconcile(local, remote, journal map[string]*FileMetadata) *ReconcileResult {
	allKeys := mapset.NewThreadUnsafeSet[string]()
	for k := range local {
		allKeys.Add(k)
	}
	for k := range remote {
		allKeys.Add(k)
	}
	for k := range journal {
		allKeys.Add(k)
	}

	result := newReconcileResult()

	for key := range allKeys.Iter() {
		l, localExists := local[key]
		r, remoteExists := remote[key]
		j, journalExists := journal[key]

		if e.isSyncing(key) || e.ignore.ShouldIgnore(key) || e.acl.IsPendingACLPath(key) {
			result.Ignored[key] = struct{}{}
			continue
		}

		switch {
		case journalExists && !localExists && !remoteExists:
			result.Cleanups[key] = struct{}{}

		case localExists && remoteExists && journalExists &&
			hasModified(l, j) && hasModified(r, j) && l.ETag != r.ETag:
			result.Conflicts[key] = &SyncOperation{Op: OpConflict, Key: key, Local: l, Remote: r, LastSynced: j}

		case localExists && remoteExists && !journalExists && l.ETag != r.ETag:
			result.Conflicts[key] = &SyncOperation{Op: OpConflict, Key: key, Local: l, Remote: r, LastSynced: j}

		case localExists && journalExists && hasModified(l, j) && (!remoteExists || !hasModified(r, j)):
			result.Uploads[key] = &SyncOperation{Op: OpUpload, Key: key, Local: l, Remote: r, LastSynced: j}

		case localExists && !journalExists && !remoteExists:
			result.Uploads[key] = &SyncOperation{Op: OpUpload, Key: key, Local: l, Remote: r, LastSynced: j}

		case remoteExists && journalExists && hasModified(r, j) && (!localExists || !hasModified(l, j)):
			result.Downloads[key] = &SyncOperation{Op: OpDownload, Key: key, Local: l, Remote: r, LastSynced: j}

		case remoteExists && !journalExists && !localExists:
			result.Downloads[key] = &SyncOperation{Op: OpDownload, Key: key, Local: l, Remote: r, LastSynced: j}

		case remoteExists && journalExists && !localExists:
			result.Downloads[key] = &SyncOperation{Op: OpDownload, Key: key, Local: l, Remote: r, LastSynced: j}

		case journalExists && localExists && !remoteExists:
			result.LocalDeletes[key] = &SyncOperation{Op: OpDeleteLocal, Key: key, Local: l, Remote: r, LastSynced: j}

		default:
			result.UnchangedPaths[key] = struct{}{}
		}
	}

	return result
}
