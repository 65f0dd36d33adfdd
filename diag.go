package safepoint

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// ThreadInfo is a snapshot of one attached thread.
type ThreadInfo struct {
	ID           ThreadID
	Name         string
	OSThreadID   int
	Status       Status
	Behavior     Behavior
	SuspendCount int
	PollCounter  int32
	// RecurringCallback reports whether a recurring callback is installed.
	RecurringCallback bool
	// Barriers counts the barriers the thread was stopped by.
	Barriers   uint64
	AttachedAt time.Time
}

// Info returns a snapshot of the thread. Outside a barrier the fields may
// be mutually inconsistent.
func (t *Thread) Info() ThreadInfo {
	return ThreadInfo{
		ID:                t.id,
		Name:              t.name,
		OSThreadID:        t.osThreadID,
		Status:            t.Status(),
		Behavior:          t.Behavior(),
		SuspendCount:      t.SuspendCount(),
		PollCounter:       t.pollCounter.Load(),
		RecurringCallback: t.hasTimer.Load(),
		Barriers:          t.barriers.Load(),
		AttachedAt:        t.attachedAt,
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (i ThreadInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", uint64(i.ID))
	if i.Name != "" {
		enc.AddString("name", i.Name)
	}
	if i.OSThreadID != 0 {
		enc.AddInt("tid", i.OSThreadID)
	}
	enc.AddString("status", i.Status.String())
	enc.AddString("behavior", i.Behavior.String())
	enc.AddInt("suspend", i.SuspendCount)
	enc.AddInt32("poll", i.PollCounter)
	enc.AddBool("recurring", i.RecurringCallback)
	enc.AddUint64("barriers", i.Barriers)
	return nil
}

// threadDump is the per-thread dump attached to promptness reports.
type threadDump struct {
	requester ThreadID
	threads   []ThreadInfo
}

func (d threadDump) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for i := range d.threads {
		info := d.threads[i]
		err := enc.AppendObject(zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			if info.ID == d.requester {
				enc.AddBool("requester", true)
			}
			return info.MarshalLogObject(enc)
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

// snapshotLocked dumps the registry; e.mu is held.
func (e *Engine) snapshotLocked(requester *Thread) threadDump {
	d := threadDump{threads: make([]ThreadInfo, 0, e.NumThreads())}
	if requester != nil {
		d.requester = requester.id
	}
	for t := e.head; t != nil; t = t.next {
		d.threads = append(d.threads, t.Info())
	}
	return d
}

// Threads returns a consistent snapshot of every attached thread, taken at
// a barrier. caller is the attached thread making the call, or nil.
func (e *Engine) Threads(caller *Thread) ([]ThreadInfo, error) {
	var infos []ThreadInfo
	op := NewOperation("thread dump", true, func(ctx *OperationContext) {
		ctx.ForEachThread(func(t *Thread) bool {
			infos = append(infos, t.Info())
			return true
		})
	})
	if err := e.Enqueue(caller, op); err != nil {
		return nil, err
	}
	return infos, nil
}
