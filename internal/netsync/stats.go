package netsync

import "sync/atomic"

// Stats counts what happened to inbound and outbound snapshots.
type Stats struct {
	received      atomic.Uint64
	applied       atomic.Uint64
	selfEcho      atomic.Uint64
	materialized  atomic.Uint64
	rejected      atomic.Uint64
	queueDropped  atomic.Uint64
	published     atomic.Uint64
	publishFailed atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received      uint64 `json:"received"`
	Applied       uint64 `json:"applied"`
	SelfEcho      uint64 `json:"self_echo"`
	Materialized  uint64 `json:"materialized"`
	Rejected      uint64 `json:"rejected"`
	QueueDropped  uint64 `json:"queue_dropped"`
	Published     uint64 `json:"published"`
	PublishFailed uint64 `json:"publish_failed"`
}

// Snapshot copies the counters. Each counter is read atomically; the set as a
// whole is not.
func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		Received:      s.received.Load(),
		Applied:       s.applied.Load(),
		SelfEcho:      s.selfEcho.Load(),
		Materialized:  s.materialized.Load(),
		Rejected:      s.rejected.Load(),
		QueueDropped:  s.queueDropped.Load(),
		Published:     s.published.Load(),
		PublishFailed: s.publishFailed.Load(),
	}
}

func (s *Stats) observe(outcome Outcome) {
	if s == nil {
		return
	}
	switch outcome {
	case OutcomeApplied:
		s.applied.Add(1)
	case OutcomeMaterialized:
		s.materialized.Add(1)
	case OutcomeSelfEcho:
		s.selfEcho.Add(1)
	case OutcomeRejected:
		s.rejected.Add(1)
	}
}
