// Package replication drives a single logical replication session against
// PostgreSQL: connecting in replication mode, creating or reusing a
// replication slot, streaming pgoutput frames, decoding them, forwarding the
// resulting events to an EventSink, and periodically reporting the
// confirmed flush position back to the server.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/sirupsen/logrus"

	"github.com/cashapp/pg-cdc/internal/metrics"
	"github.com/cashapp/pg-cdc/internal/pgoutput"
)

// State is one of a Session's lifecycle stages.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected     State = "connected"
	StateSlotReady      State = "slot_ready"
	StateStreaming      State = "streaming"
	StateStopped        State = "stopped"
)

// EventSink receives decoded change events. *dispatch.Pool satisfies this.
type EventSink interface {
	Enqueue(ctx context.Context, event *pgoutput.ChangeEvent) error
}

// Config holds everything a Session needs to connect and stream.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string

	SlotName        string
	PublicationName string

	// KeepaliveInterval is the period of the timer-driven standby status
	// updates sent to the server. A keepalive that requests a reply is
	// answered immediately, regardless of this interval.
	KeepaliveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 10 * time.Second
	}
	return c
}

// Session is a single logical replication connection. It is not safe for
// concurrent use except for the accessor methods explicitly documented as
// such (Position, CurrentState).
type Session struct {
	cfg    Config
	logger logrus.FieldLogger
	metric metrics.Sink
	sink   EventSink

	conn    *pgconn.PgConn
	decoder *pgoutput.Decoder

	mu    sync.RWMutex
	state State

	confirmedLSN pglogrepl.LSN
	serverWALEnd pglogrepl.LSN

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Session. The decoder is owned internally; callers only
// observe the events it produces through sink.
func New(cfg Config, sink EventSink, logger logrus.FieldLogger, sink2 metrics.Sink) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink2 == nil {
		sink2 = metrics.NoopSink{}
	}
	return &Session{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metric:  sink2,
		sink:    sink,
		decoder: pgoutput.NewDecoder(pgoutput.NewRegistry()),
		state:   StateDisconnected,
	}
}

// CurrentState returns the session's lifecycle state. Safe for concurrent use.
func (s *Session) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Position returns the last server WAL position observed via keepalive or
// XLogData messages. Safe for concurrent use.
func (s *Session) Position() pgoutput.LSN {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pgoutput.LSN(s.serverWALEnd)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.WithField("state", string(st)).Debug("session state changed")
}

// Connect dials PostgreSQL with the replication runtime parameter set,
// moving the session from disconnected to connected.
func (s *Session) Connect(ctx context.Context) error {
	if s.CurrentState() != StateDisconnected {
		return fmt.Errorf("replication: Connect called in state %s", s.CurrentState())
	}

	connCfg, err := pgconn.ParseConfig(s.connString())
	if err != nil {
		return fmt.Errorf("replication: parse connection config: %w", err)
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("replication: connect: %w", err)
	}
	s.conn = conn
	s.setState(StateConnected)
	return nil
}

func (s *Session) connString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password, s.cfg.Database)
}

// EnsureSlot creates the configured replication slot if it does not already
// exist, reusing it idempotently when it does: a duplicate_object error
// from the server is not a failure.
func (s *Session) EnsureSlot(ctx context.Context) error {
	if s.CurrentState() != StateConnected {
		return fmt.Errorf("replication: EnsureSlot called in state %s", s.CurrentState())
	}

	_, err := pglogrepl.CreateReplicationSlot(ctx, s.conn, s.cfg.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" { // duplicate_object
			s.logger.WithField("slot", s.cfg.SlotName).Info("replication slot already exists, reusing it")
		} else {
			return fmt.Errorf("replication: create replication slot: %w", err)
		}
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, s.conn)
	if err != nil {
		return fmt.Errorf("replication: identify system: %w", err)
	}
	s.mu.Lock()
	s.confirmedLSN = sysident.XLogPos
	s.serverWALEnd = sysident.XLogPos
	s.mu.Unlock()

	s.setState(StateSlotReady)
	return nil
}

// Run issues START_REPLICATION and pumps frames until ctx is cancelled or an
// unrecoverable error occurs. It blocks; callers typically run it in its own
// goroutine and use Stop (or ctx cancellation) to end it.
func (s *Session) Run(ctx context.Context) error {
	if s.CurrentState() != StateSlotReady {
		return fmt.Errorf("replication: Run called in state %s", s.CurrentState())
	}

	s.mu.RLock()
	startLSN := s.confirmedLSN
	s.mu.RUnlock()

	err := pglogrepl.StartReplication(ctx, s.conn, s.cfg.SlotName, startLSN,
		pglogrepl.StartReplicationOptions{
			PluginArgs: []string{
				"proto_version '1'",
				fmt.Sprintf("publication_names '%s'", s.cfg.PublicationName),
			},
		})
	if err != nil {
		return fmt.Errorf("replication: start replication: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(StateStreaming)

	return s.pump(runCtx)
}

// Stop cancels an in-progress Run and waits for it to exit.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Close releases the underlying connection. Call after Run has returned.
func (s *Session) Close(ctx context.Context) error {
	defer s.setState(StateStopped)
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}

// pump is the receive loop: it alternates between reading the next
// replication message and sending standby status updates on the configured
// interval, forwarding decoded events to the sink under backpressure.
func (s *Session) pump(ctx context.Context) error {
	defer close(s.done)

	lastStatus := time.Now()
	interval := s.cfg.KeepaliveInterval

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastStatus) >= interval {
			if err := s.sendStandbyStatus(ctx); err != nil {
				s.logger.WithError(err).Warn("failed to send standby status")
			}
			lastStatus = time.Now()
		}

		recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(interval))
		rawMsg, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("replication: receive message: %w", err)
		}

		if errResp, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("replication: server error %s: %s (%s)", errResp.Severity, errResp.Message, errResp.Code)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				s.logger.WithError(err).Warn("failed to parse keepalive message")
				continue
			}
			s.observeWALEnd(pkm.ServerWALEnd)
			if pkm.ReplyRequested {
				if err := s.sendStandbyStatus(ctx); err != nil {
					s.logger.WithError(err).Warn("failed to reply to keepalive")
				}
				lastStatus = time.Now()
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				s.logger.WithError(err).Warn("failed to parse XLogData")
				continue
			}
			s.observeWALEnd(xld.ServerWALEnd)
			if err := s.handleFrame(ctx, xld); err != nil {
				s.logger.WithError(err).WithField("wal_start", xld.WALStart.String()).
					Warn("frame decode reported a soft error")
			}
		}
	}
}

func (s *Session) observeWALEnd(lsn pglogrepl.LSN) {
	s.mu.Lock()
	if lsn > s.serverWALEnd {
		s.serverWALEnd = lsn
	}
	s.mu.Unlock()
}

// handleFrame decodes one XLogData payload and, if it produced an event,
// enqueues it to the sink before advancing the confirmed position: a
// position is only acknowledged once its event has been handed off to
// the sink, never before.
func (s *Session) handleFrame(ctx context.Context, xld pglogrepl.XLogData) error {
	event, decodeErr := s.decoder.Decode(xld.WALData)

	if decodeErr != nil {
		if errors.Is(decodeErr, pgoutput.ErrColumnCountMismatch) {
			s.metric.SoftDecodeError("column_count_mismatch")
		} else if errors.Is(decodeErr, pgoutput.ErrUnknownRelation) {
			s.metric.SoftDecodeError("unknown_relation")
		} else {
			s.metric.SoftDecodeError("protocol_violation")
		}
	} else {
		s.metric.FrameDecoded()
	}

	if event != nil {
		event.Position = pgoutput.LSN(xld.WALStart)
		if err := s.sink.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
	}

	s.mu.Lock()
	if xld.WALStart > s.confirmedLSN {
		s.confirmedLSN = xld.WALStart
	}
	s.mu.Unlock()

	return decodeErr
}

func (s *Session) sendStandbyStatus(ctx context.Context) error {
	s.mu.RLock()
	lsn := s.confirmedLSN
	s.mu.RUnlock()
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
	if err == nil {
		s.metric.AcknowledgedLSN(uint64(lsn))
	}
	return err
}
