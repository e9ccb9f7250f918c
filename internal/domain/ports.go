package domain

import "context"

// OverviewRepo produces complete snapshots of the cluster.
type OverviewRepo interface {
	Overview(ctx context.Context) (Snapshot, error)
}

// Listener receives feed events in arrival order. Exactly one of snap or
// err is meaningful per call: OnSnapshot for every decoded message,
// OnError once when the stream ends.
type Listener interface {
	OnSnapshot(snap Snapshot)
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Snapshot func(Snapshot)
	Error    func(error)
}

func (l ListenerFuncs) OnSnapshot(s Snapshot) {
	if l.Snapshot != nil {
		l.Snapshot(s)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}
