package model

// SyncRequest is the body of POST /documents/{id}/sync: the editor's complete
// page snapshot.
type SyncRequest struct {
	Pages []Page `json:"pages"`
}

// SyncResponse reports the temporary ids that were persisted during a sync.
type SyncResponse struct {
	Success         bool      `json:"success"`
	FieldIDMappings IDMapping `json:"fieldIdMappings"`
}
