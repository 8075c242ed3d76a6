// Package types defines the gateway's core data model: Function, Variant,
// Model, ModelProvider, Tool, Input, Message, and the observability record
// shapes appended to the OLAP store. Ownership is expressed as read-only,
// name-keyed registries resolved by lookup at request time rather than by
// pointer chasing (see DESIGN.md, "cyclic references and graph ownership").
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/tzerr"
)

// epoch is the earliest timestamp the gateway accepts for a caller-supplied
// UUIDv7 id. IDs with an embedded timestamp older than this are almost
// certainly not real UUIDv7 values and are rejected.
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// NewID mints a fresh UUIDv7, used for InferenceRecord, ModelInferenceRecord,
// Feedback, Datapoint, and BatchRequest ids. UUIDv7's leading bits encode
// creation time, so ids sort chronologically and double as cursors.
func NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, tzerr.New(tzerr.KindInternal, "generate uuidv7", err, nil)
	}
	return id, nil
}

// MustNewID mints a fresh UUIDv7 and panics on failure. Failure can only
// happen if the system's CSPRNG is broken, which is not a condition normal
// request handling can recover from.
func MustNewID() uuid.UUID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ValidateID checks that id is a well-formed UUIDv7 whose embedded timestamp
// falls between the gateway epoch and now (with a small allowance for clock
// skew). Returns InvalidTensorzeroUuid otherwise.
func ValidateID(id uuid.UUID) error {
	if id == uuid.Nil {
		return tzerr.New(tzerr.KindInvalidTensorzeroUUID, "id must not be nil", nil, nil)
	}
	if id.Version() != 7 {
		return tzerr.New(tzerr.KindInvalidTensorzeroUUID, "id must be a UUIDv7", nil, map[string]any{"version": id.Version()})
	}
	t := TimestampOf(id)
	now := time.Now().UTC()
	if t.Before(epoch) {
		return tzerr.New(tzerr.KindInvalidTensorzeroUUID, "id timestamp predates gateway epoch", nil, map[string]any{"timestamp": t})
	}
	if t.After(now.Add(time.Minute)) {
		return tzerr.New(tzerr.KindInvalidTensorzeroUUID, "id timestamp is in the future", nil, map[string]any{"timestamp": t})
	}
	return nil
}

// TimestampOf extracts the millisecond timestamp embedded in a UUIDv7's
// leading 48 bits.
func TimestampOf(id uuid.UUID) time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 | int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms).UTC()
}
