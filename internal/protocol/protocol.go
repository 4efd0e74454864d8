// Package protocol defines the wire schema for the four sync operations
// (Negotiate, Upload, Download, Delete), the C4 component, grounded on the
// teacher's internal/sync.Client (one HTTP verb per action, bearer auth)
// generalized from a single flat file store to the spec's
// participant/directory/shared addressing.
package protocol

import (
	"time"

	"github.com/abuss/syncpair/internal/model"
)

// NegotiateTimeout and UploadTimeout cover negotiation and upload
// requests; DownloadTimeout covers download requests, per spec.md §4.4.
const (
	NegotiateTimeout = 30 * time.Second
	UploadTimeout    = 30 * time.Second
	DownloadTimeout  = 10 * time.Second
)

// DirectoryRef identifies a logical directory on the wire: every request
// carries enough for the coordinator to resolve its storage key.
type DirectoryRef struct {
	ParticipantID string `json:"participant_id"`
	DirectoryName string `json:"directory_name"`
	Shared        bool   `json:"shared"`
}

// Key returns the coordinator storage key for this ref (spec.md §3):
// "name" when shared, "participant_id:name" when private.
func (r DirectoryRef) Key() string {
	if r.Shared {
		return r.DirectoryName
	}
	return r.ParticipantID + ":" + r.DirectoryName
}

// SyncRequest is the Negotiate request body.
type SyncRequest struct {
	DirectoryRef
	Files        model.Inventory  `json:"files"`
	DeletedFiles map[string]int64 `json:"deleted_files"` // unix millis
	LastSync     *int64           `json:"last_sync,omitempty"`
}

// ConflictReport mirrors planner.Conflict on the wire.
type ConflictReport struct {
	Path          string `json:"path"`
	LocalInstant  int64  `json:"local_instant"`
	RemoteInstant int64  `json:"remote_instant"`
	Winner        string `json:"winner"`
}

// DeleteInstruction tells the participant to remove a local path, carrying
// the coordinator's own tombstone instant Rd[p] so the participant's local
// tombstone ends up stamped with that same instant (spec.md §4.3 rule 2)
// rather than the moment it happened to apply the delete.
type DeleteInstruction struct {
	Path    string `json:"path"`
	Instant int64  `json:"instant"` // unix millis
}

// SyncResponse is the Negotiate response body: the plan the coordinator
// computed treating its own state as "remote" relative to the request.
// FilesToDelete tells the participant which local files the coordinator's
// side has tombstoned, and at what instant; FilesToDeleteRemote tells the
// participant which paths it must ask the coordinator to delete (its own
// tombstone wins).
type SyncResponse struct {
	FilesToUpload       []string            `json:"files_to_upload"`
	FilesToDownload     []model.FileInfo    `json:"files_to_download"`
	FilesToDelete       []DeleteInstruction `json:"files_to_delete"`
	FilesToDeleteRemote []string            `json:"files_to_delete_remote"`
	Conflicts           []ConflictReport    `json:"conflicts"`
}

// UploadRequest describes an upload's metadata; the content itself
// travels as the HTTP request body. ContentB64 is part of the schema, but
// the client never sets it and the coordinator's HTTP handler does not
// read it.
type UploadRequest struct {
	DirectoryRef
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	Modified    int64  `json:"modified"` // unix millis
	ContentB64  string `json:"content_b64,omitempty"`
}

// DeleteRequest describes a delete operation.
type DeleteRequest struct {
	DirectoryRef
	Path    string `json:"path"`
	Instant *int64 `json:"instant,omitempty"` // unix millis; server uses max(now, instant)
}

// ToMillis/FromMillis convert between the wire's unix-millisecond
// integers and time.Time, keeping the millisecond-coarsening rule (Open
// Question 3) in one place.
func ToMillis(t time.Time) int64 {
	return t.UTC().Truncate(time.Millisecond).UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
