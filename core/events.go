package core

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// EventType names a ledger event.
type EventType string

const (
	EventTransactionCreated  EventType = "transaction_created"
	EventTransactionRejected EventType = "transaction_rejected"
	EventBlockMined          EventType = "block_mined"
	EventBlockRejected       EventType = "block_rejected"
	EventMiningFailed        EventType = "mining_failed"
	EventDifficultyAdjusted  EventType = "difficulty_adjusted"
	EventChainValidated      EventType = "chain_validated"
	EventChainInvalid        EventType = "chain_invalid"
	EventLedgerExported      EventType = "ledger_exported"
	EventLedgerImported      EventType = "ledger_imported"
	EventBalanceSet          EventType = "initial_balance_set"
	EventPendingDiscarded    EventType = "pending_discarded"
)

// Event is a structured notification emitted by the ledger.
type Event struct {
	Type   EventType
	Time   time.Time
	Fields map[string]interface{}
}

// EventSink receives ledger events. Emission is best effort: the ledger
// ignores anything a sink does, including panics.
type EventSink interface {
	Emit(ev Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events to a logrus logger.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev Event) {
	entry := s.log.WithFields(logrus.Fields(ev.Fields)).WithField("event", string(ev.Type))
	switch ev.Type {
	case EventTransactionRejected, EventBlockRejected, EventChainInvalid:
		entry.Warn("ledger event")
	case EventMiningFailed:
		entry.Error("ledger event")
	case EventDifficultyAdjusted, EventChainValidated:
		entry.Debug("ledger event")
	default:
		entry.Info("ledger event")
	}
}

// FeedSink fans events out to in-process subscribers. Send blocks until
// every subscriber has received the event, so subscribers must keep draining.
type FeedSink struct {
	feed event.Feed
}

func NewFeedSink() *FeedSink {
	return &FeedSink{}
}

func (s *FeedSink) Emit(ev Event) {
	s.feed.Send(ev)
}

// Subscribe delivers future events on ch until the subscription is closed.
func (s *FeedSink) Subscribe(ch chan<- Event) event.Subscription {
	return s.feed.Subscribe(ch)
}

type multiSink []EventSink

// MultiSink emits every event to each sink in order.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		safeEmit(s, ev)
	}
}

func safeEmit(s EventSink, ev Event) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Emit(ev)
}
