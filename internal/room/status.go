package room

// SyncStatus describes the sync state a client should display.
type SyncStatus string

const (
	// StatusSynced means the last known state is stored and current.
	StatusSynced SyncStatus = "synced"
	// StatusSyncingDocument means a document subscription is resolving
	// its first snapshot.
	StatusSyncingDocument SyncStatus = "syncing_document"
	// StatusSaving means a debounced write is in flight.
	StatusSaving SyncStatus = "saving"
	// StatusSaveError means the last write failed; local edits are kept.
	StatusSaveError SyncStatus = "save_error"
	// StatusConnectionError means a live subscription is erroring.
	StatusConnectionError SyncStatus = "connection_error"
	// StatusDocumentNotFound means the open document no longer exists.
	StatusDocumentNotFound SyncStatus = "document_not_found"
)
