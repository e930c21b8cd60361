package replication

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashapp/pg-cdc/internal/pgoutput"
)

type captureSink struct {
	events []*pgoutput.ChangeEvent
	err    error
}

func (c *captureSink) Enqueue(ctx context.Context, event *pgoutput.ChangeEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func relationFrame() []byte {
	var buf bytes.Buffer
	buf.WriteByte('R')
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], 16)
	buf.Write(id[:])
	buf.WriteString("public\x00")
	buf.WriteString("users\x00")
	buf.WriteByte('d')
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], 1)
	buf.Write(n[:])
	buf.WriteByte(0)
	buf.WriteString("id\x00")
	var oid, mod [4]byte
	binary.BigEndian.PutUint32(oid[:], 23)
	buf.Write(oid[:])
	binary.BigEndian.PutUint32(mod[:], 0)
	buf.Write(mod[:])
	return buf.Bytes()
}

func insertFrame(value string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('I')
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], 16)
	buf.Write(id[:])
	buf.WriteByte('N')
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], 1)
	buf.Write(n[:])
	buf.WriteByte('t')
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(value)))
	buf.Write(l[:])
	buf.WriteString(value)
	return buf.Bytes()
}

func newTestSession(sink EventSink) *Session {
	return New(Config{SlotName: "test_slot", PublicationName: "test_pub"}, sink, nil, nil)
}

func TestSession_HandleFrame_DecodesAndEnqueues(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink)

	err := s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: relationFrame(), WALStart: 100})
	require.NoError(t, err)
	assert.Empty(t, sink.events)

	err = s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: insertFrame("7"), WALStart: 200})
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, pgoutput.OpInsert, sink.events[0].Operation)
	assert.EqualValues(t, 200, sink.events[0].Position)
}

func TestSession_HandleFrame_AdvancesConfirmedPositionAfterEnqueue(t *testing.T) {
	sink := &captureSink{}
	s := newTestSession(sink)
	_ = s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: relationFrame(), WALStart: 1})

	before := s.confirmedLSN
	err := s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: insertFrame("1"), WALStart: 500})
	require.NoError(t, err)
	assert.Greater(t, uint64(s.confirmedLSN), uint64(before))
}

func TestSession_HandleFrame_SinkErrorDoesNotAdvancePosition(t *testing.T) {
	sink := &captureSink{err: errors.New("queue closed")}
	s := newTestSession(sink)
	_ = s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: relationFrame(), WALStart: 1})

	before := s.confirmedLSN
	err := s.handleFrame(context.Background(), pglogrepl.XLogData{WALData: insertFrame("1"), WALStart: 999})
	require.Error(t, err)
	assert.Equal(t, before, s.confirmedLSN)
}

func TestSession_StateGuards(t *testing.T) {
	s := newTestSession(&captureSink{})
	assert.Equal(t, StateDisconnected, s.CurrentState())

	err := s.EnsureSlot(context.Background())
	require.Error(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
}
