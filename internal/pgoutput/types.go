package pgoutput

import "time"

// ReplicaIdentity mirrors Postgres's relreplident column, carried on every
// Relation message.
type ReplicaIdentity byte

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// ColumnDescriptor describes one column of a relation, in the positional
// order tuples are encoded in.
type ColumnDescriptor struct {
	Name        string
	TypeOID     uint32
	TypeModifier int32
	Flags       uint8 // bit 0 set: column is part of the key
}

// IsKey reports whether this column participates in the replica identity.
func (c ColumnDescriptor) IsKey() bool {
	return c.Flags&0x1 != 0
}

// RelationDescriptor is the decoded form of an 'R' message: everything
// needed to decode subsequent tuple frames referencing this relation id.
type RelationDescriptor struct {
	RelationID      uint32
	Schema          string
	Table           string
	ReplicaIdentity ReplicaIdentity
	Columns         []ColumnDescriptor
}

// Operation identifies the kind of row mutation a ChangeEvent describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Values maps a column name to its decoded cell value. A nil entry means
// the column's value is SQL NULL. A non-nil entry holds either UTF-8 text,
// the lowercase-hex encoding of a binary value, or the literal sentinel
// "[unchanged]" for an un-replicated TOASTed column (see UnchangedMarker).
type Values map[string]*string

// UnchangedMarker is the sentinel value for TOAST columns the server did
// not include in the tuple because they were not part of the update.
const UnchangedMarker = "[unchanged]"

// ChangeEvent is one decoded row mutation, ready for dispatch to a worker.
type ChangeEvent struct {
	Operation Operation
	Schema    string
	Table     string
	// Columns holds column names in positional order, copied from the
	// relation descriptor at emission time.
	Columns   []string
	OldValues Values // present for DELETE, and for UPDATE with an O/K block
	NewValues Values // present for INSERT, always present for UPDATE
	Position  LSN
	Timestamp time.Time
}

// LSN is a 64-bit monotonically non-decreasing server-assigned log
// position, carried on every replication frame.
type LSN uint64
