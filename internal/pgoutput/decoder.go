package pgoutput

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Message tags relevant to pgoutput decoding.
const (
	tagRelation = 'R'
	tagBegin    = 'B'
	tagCommit   = 'C'
	tagInsert   = 'I'
	tagUpdate   = 'U'
	tagDelete   = 'D'
)

// Tuple block tags.
const (
	tupleKey = 'K'
	tupleOld = 'O'
	tupleNew = 'N'
)

// Cell kind tags.
const (
	cellNull      = 'n'
	cellUnchanged = 'u'
	cellText      = 't'
	cellBinary    = 'b'
)

// Decoder dispatches pgoutput frames by their one-byte message tag and
// decodes them into registry updates (Relation) or ChangeEvents (Insert/
// Update/Delete). Begin/Commit/unrecognized tags produce no event.
//
// A Decoder is single-threaded: it both reads from and writes to its
// Registry. It is not safe for concurrent use from multiple goroutines
// decoding distinct frames at once, only for the single session pump that
// owns it.
type Decoder struct {
	registry *Registry
}

// NewDecoder returns a Decoder that registers relations into registry.
func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Registry returns the decoder's relation registry, for callers that need
// to inspect it directly (e.g. tests, or a session reporting its state).
func (d *Decoder) Registry() *Registry {
	return d.registry
}

// Decode consumes one pgoutput message body (tag byte included) and
// returns the ChangeEvent it produced, if any.
//
// A non-nil error wrapping ErrColumnCountMismatch is a soft warning: the
// returned event is still valid, truncated to the shorter of the tuple's
// and the relation's column counts. Any other non-nil error means no
// event was produced; ErrUnknownRelation is a soft skip, anything else
// (typically wrapping ErrTruncatedFrame) is a protocol violation.
func (d *Decoder) Decode(frame []byte) (*ChangeEvent, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrTruncatedFrame)
	}
	tag := frame[0]
	cur := NewCursor(frame[1:])
	switch tag {
	case tagRelation:
		return nil, d.decodeRelation(cur)
	case tagBegin, tagCommit:
		return nil, nil
	case tagInsert:
		return d.decodeInsert(cur)
	case tagUpdate:
		return d.decodeUpdate(cur)
	case tagDelete:
		return d.decodeDelete(cur)
	default:
		// Forward-compatibility: unrecognized tags produce no event and do
		// not move the decoder into an error state.
		return nil, nil
	}
}

func (d *Decoder) decodeRelation(cur *Cursor) error {
	relationID, err := cur.ReadUint32()
	if err != nil {
		return err
	}
	namespace, err := cur.ReadCString()
	if err != nil {
		return err
	}
	relName, err := cur.ReadCString()
	if err != nil {
		return err
	}
	replicaIdentity, err := cur.ReadUint8()
	if err != nil {
		return err
	}
	numCols, err := cur.ReadUint16()
	if err != nil {
		return err
	}

	cols := make([]ColumnDescriptor, 0, numCols)
	for i := 0; i < int(numCols); i++ {
		flags, err := cur.ReadUint8()
		if err != nil {
			return err
		}
		colName, err := cur.ReadCString()
		if err != nil {
			return err
		}
		typeOID, err := cur.ReadUint32()
		if err != nil {
			return err
		}
		typeMod, err := cur.ReadInt32()
		if err != nil {
			return err
		}
		cols = append(cols, ColumnDescriptor{
			Name:         colName,
			TypeOID:      typeOID,
			TypeModifier: typeMod,
			Flags:        flags,
		})
	}

	d.registry.Register(RelationDescriptor{
		RelationID:      relationID,
		Schema:          namespace,
		Table:           relName,
		ReplicaIdentity: ReplicaIdentity(replicaIdentity),
		Columns:         cols,
	})
	return nil
}

func (d *Decoder) decodeInsert(cur *Cursor) (*ChangeEvent, error) {
	relationID, err := cur.ReadUint32()
	if err != nil {
		return nil, err
	}
	desc, ok := d.registry.Lookup(relationID)
	if !ok {
		return nil, fmt.Errorf("%w: relation id %d", ErrUnknownRelation, relationID)
	}
	tag, err := cur.ReadUint8()
	if err != nil {
		return nil, err
	}
	if tag != tupleNew {
		return nil, fmt.Errorf("%w: expected new-tuple tag 'N' in insert, got %q", ErrTruncatedFrame, tag)
	}
	newValues, softErr := decodeTupleData(cur, desc.Columns)
	if softErr != nil && !errors.Is(softErr, ErrColumnCountMismatch) {
		return nil, softErr
	}
	event := &ChangeEvent{
		Operation: OpInsert,
		Schema:    desc.Schema,
		Table:     desc.Table,
		Columns:   columnNames(desc.Columns),
		NewValues: newValues,
		Timestamp: time.Now(),
	}
	return event, softErr
}

func (d *Decoder) decodeUpdate(cur *Cursor) (*ChangeEvent, error) {
	relationID, err := cur.ReadUint32()
	if err != nil {
		return nil, err
	}
	desc, ok := d.registry.Lookup(relationID)
	if !ok {
		return nil, fmt.Errorf("%w: relation id %d", ErrUnknownRelation, relationID)
	}
	tag, err := cur.ReadUint8()
	if err != nil {
		return nil, err
	}

	var oldValues Values
	var softErr error
	if tag == tupleKey || tag == tupleOld {
		oldValues, softErr = decodeTupleData(cur, desc.Columns)
		if softErr != nil && !errors.Is(softErr, ErrColumnCountMismatch) {
			return nil, softErr
		}
		tag, err = cur.ReadUint8()
		if err != nil {
			return nil, err
		}
	}
	if tag != tupleNew {
		return nil, fmt.Errorf("%w: expected new-tuple tag 'N' in update, got %q", ErrTruncatedFrame, tag)
	}
	newValues, newSoftErr := decodeTupleData(cur, desc.Columns)
	if newSoftErr != nil && !errors.Is(newSoftErr, ErrColumnCountMismatch) {
		return nil, newSoftErr
	}
	if newSoftErr != nil {
		softErr = newSoftErr
	}

	event := &ChangeEvent{
		Operation: OpUpdate,
		Schema:    desc.Schema,
		Table:     desc.Table,
		Columns:   columnNames(desc.Columns),
		OldValues: oldValues,
		NewValues: newValues,
		Timestamp: time.Now(),
	}
	return event, softErr
}

func (d *Decoder) decodeDelete(cur *Cursor) (*ChangeEvent, error) {
	relationID, err := cur.ReadUint32()
	if err != nil {
		return nil, err
	}
	desc, ok := d.registry.Lookup(relationID)
	if !ok {
		return nil, fmt.Errorf("%w: relation id %d", ErrUnknownRelation, relationID)
	}
	tag, err := cur.ReadUint8()
	if err != nil {
		return nil, err
	}
	if tag != tupleKey && tag != tupleOld {
		return nil, fmt.Errorf("%w: expected 'K' or 'O' tuple tag in delete, got %q", ErrTruncatedFrame, tag)
	}
	oldValues, softErr := decodeTupleData(cur, desc.Columns)
	if softErr != nil && !errors.Is(softErr, ErrColumnCountMismatch) {
		return nil, softErr
	}
	event := &ChangeEvent{
		Operation: OpDelete,
		Schema:    desc.Schema,
		Table:     desc.Table,
		Columns:   columnNames(desc.Columns),
		OldValues: oldValues,
		Timestamp: time.Now(),
	}
	return event, softErr
}

// decodeTupleData decodes a TupleData block: a u16 column count followed by
// that many cells. The k-th cell is bound to the k-th entry of columns
// (cells bind to columns positionally). If the tuple's column count
// disagrees with len(columns), decoding proceeds up to the shorter of the
// two and a wrapped ErrColumnCountMismatch is returned alongside the
// otherwise-valid Values.
func decodeTupleData(cur *Cursor, columns []ColumnDescriptor) (Values, error) {
	numCols, err := cur.ReadUint16()
	if err != nil {
		return nil, err
	}

	limit := int(numCols)
	var softErr error
	if int(numCols) != len(columns) {
		if len(columns) < limit {
			limit = len(columns)
		}
		softErr = fmt.Errorf("%w: tuple has %d columns, relation has %d", ErrColumnCountMismatch, numCols, len(columns))
	}

	values := make(Values, limit)
	for i := 0; i < int(numCols); i++ {
		kind, err := cur.ReadUint8()
		if err != nil {
			return nil, err
		}

		var val *string
		switch kind {
		case cellNull:
			val = nil
		case cellUnchanged:
			s := UnchangedMarker
			val = &s
		case cellText:
			length, err := cur.ReadUint32()
			if err != nil {
				return nil, err
			}
			b, err := cur.ReadBytes(int(length))
			if err != nil {
				return nil, err
			}
			s := string(b)
			val = &s
		case cellBinary:
			length, err := cur.ReadUint32()
			if err != nil {
				return nil, err
			}
			b, err := cur.ReadBytes(int(length))
			if err != nil {
				return nil, err
			}
			s := hex.EncodeToString(b)
			val = &s
		default:
			// Unknown cell tag: recorded as null, frame completes
			// (forward compatibility with cell kinds not yet seen).
			val = nil
		}

		if i < limit {
			values[columns[i].Name] = val
		}
	}
	return values, softErr
}

func columnNames(cols []ColumnDescriptor) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
