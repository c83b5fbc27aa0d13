// Package conflict provides conflict resolution for multi-device
// synchronization. Each entity type has a fixed policy; a pair that no
// policy can decide deterministically is surfaced as a ConflictItem for
// external resolution, never guessed.
package conflict

import (
	"encoding/json"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
)

// Policy defines how conflicts for one entity type are resolved.
type Policy string

const (
	// PolicyMerge shallow-merges local over remote; local fields win on
	// key collision, timestamp becomes max(local, remote).
	PolicyMerge Policy = "merge"
	// PolicyAppend unions append-only histories and keeps the freshest
	// scheduling state.
	PolicyAppend Policy = "append"
	// PolicyLWW keeps the side with the newer timestamp.
	PolicyLWW Policy = "last_write_wins"
	// PolicyManual defers to external resolution via a ConflictItem.
	PolicyManual Policy = "manual"
)

// PolicyFor returns the fixed, non-configurable policy for an entity type.
// Unmapped types resolve to PolicyManual.
func PolicyFor(entity models.EntityType) Policy {
	switch entity {
	case models.EntityLists, models.EntityItems:
		return PolicyMerge
	case models.EntityReviews:
		return PolicyAppend
	case models.EntityStreak, models.EntitySettings:
		return PolicyLWW
	}
	return PolicyManual
}

// Side identifies which version won a last-write-wins resolution.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolution is the outcome of resolving one local/remote pair.
type Resolution struct {
	Policy Policy
	// Merged is the record both sides should converge on. Nil when Manual.
	Merged json.RawMessage
	// PushBoth reports whether Merged must be written locally and pushed
	// to the server (merge and append produce a new version neither side
	// has yet; lww only adopts an existing one).
	PushBoth bool
	// Winner is set for lww resolutions so callers know which side to
	// propagate.
	Winner Side
	// Manual reports that the pair must be stored as a ConflictItem.
	Manual bool
}

// Resolver applies per-entity conflict policies.
type Resolver struct {
	logger *logging.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Get()
	}
	return &Resolver{logger: logger}
}

// Resolve resolves a conflict between a local and a remote version of the
// same record using the entity's fixed policy.
func (r *Resolver) Resolve(entity models.EntityType, local, remote json.RawMessage) (*Resolution, error) {
	policy := PolicyFor(entity)

	r.logger.Info("Resolving conflict",
		map[string]interface{}{
			"entity": entity,
			"policy": policy,
		})

	switch policy {
	case PolicyMerge:
		return r.resolveMerge(local, remote)
	case PolicyAppend:
		return r.resolveAppend(local, remote)
	case PolicyLWW:
		return r.resolveLastWriteWins(local, remote)
	default:
		return &Resolution{Policy: PolicyManual, Manual: true}, nil
	}
}

// resolveMerge shallow-merges local over remote. Local fields win on key
// collision; the merged timestamp is the max of both sides.
func (r *Resolver) resolveMerge(local, remote json.RawMessage) (*Resolution, error) {
	localFields, err := decodeFields(local)
	if err != nil {
		return nil, err
	}
	remoteFields, err := decodeFields(remote)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(localFields)+len(remoteFields))
	for k, v := range remoteFields {
		merged[k] = v
	}
	for k, v := range localFields {
		merged[k] = v
	}

	ts := timestampOf(localFields)
	if rts := timestampOf(remoteFields); rts > ts {
		ts = rts
	}
	if ts > 0 {
		merged["updatedAt"] = ts
	}
	merged["syncStatus"] = string(models.SyncStatusSynced)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return &Resolution{Policy: PolicyMerge, Merged: data, PushBoth: true}, nil
}

// resolveAppend merges review records: histories are unioned (deduped by
// timestamp+outcome) and the scheduling state of the side with the newest
// review is kept.
func (r *Resolver) resolveAppend(local, remote json.RawMessage) (*Resolution, error) {
	var localReview, remoteReview models.ReviewQueueItem
	if err := json.Unmarshal(local, &localReview); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(remote, &remoteReview); err != nil {
		return nil, err
	}

	base := localReview
	if latestReview(remoteReview.History) > latestReview(localReview.History) {
		base = remoteReview
	}
	base.History = localReview.History.Merge(remoteReview.History)
	base.SyncStatus = models.SyncStatusSynced

	data, err := json.Marshal(&base)
	if err != nil {
		return nil, err
	}
	return &Resolution{Policy: PolicyAppend, Merged: data, PushBoth: true}, nil
}

// resolveLastWriteWins keeps the side with the newer timestamp. Ties keep
// local (the device doing the resolving).
func (r *Resolver) resolveLastWriteWins(local, remote json.RawMessage) (*Resolution, error) {
	localFields, err := decodeFields(local)
	if err != nil {
		return nil, err
	}
	remoteFields, err := decodeFields(remote)
	if err != nil {
		return nil, err
	}

	winner := local
	side := SideLocal
	if timestampOf(remoteFields) > timestampOf(localFields) {
		winner = remote
		side = SideRemote
	}

	r.logger.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"winner_side":      string(side),
			"local_timestamp":  timestampOf(localFields),
			"remote_timestamp": timestampOf(remoteFields),
		})

	return &Resolution{Policy: PolicyLWW, Merged: winner, Winner: side}, nil
}

func decodeFields(record json.RawMessage) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(record) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// timestampOf extracts the record's logical write time: updatedAt where
// present, lastActiveAt for the streak record.
func timestampOf(fields map[string]interface{}) int64 {
	var ts int64
	for _, key := range []string{"updatedAt", "lastActiveAt"} {
		if v, ok := fields[key].(float64); ok && int64(v) > ts {
			ts = int64(v)
		}
	}
	return ts
}

// latestReview returns the newest timestamp in a history, 0 when empty.
func latestReview(history models.ReviewHistory) int64 {
	var latest int64
	for _, o := range history {
		if o.Timestamp > latest {
			latest = o.Timestamp
		}
	}
	return latest
}
