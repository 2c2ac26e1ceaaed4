package reconcile

import (
	"errors"
	"time"

	"record-sync/core/localstore"
)

// Status is the per-object result of a pass.
type Status string

const (
	// StatusSaved means the remote store confirmed the object.
	StatusSaved Status = "saved"
	// StatusDropped means the record vanished remotely and the local object was removed.
	StatusDropped Status = "dropped"
	// StatusFailed means the object stays dirty; Err says why.
	StatusFailed Status = "failed"
)

// Outcome reports what a pass did with one object.
type Outcome struct {
	Ref    localstore.Ref `json:"ref"`
	Status Status         `json:"status"`
	Err    error          `json:"-"`
	Error  string         `json:"error,omitempty"`
}

// Result is delivered to completion callbacks once a pass ends.
type Result struct {
	// Pass numbers the pass, starting at 1.
	Pass uint64
	// Outcomes lists every object the pass touched.
	Outcomes []Outcome
	// Err joins the errors of failed objects, nil when everything converged.
	Err error
}

// Callback receives the result of the pass that covered a MarkDirty call.
type Callback func(Result)

// BatchCompleted is published on the event bus after every pass.
type BatchCompleted struct {
	Pass     uint64        `json:"pass"`
	Outcomes []Outcome     `json:"outcomes"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (BatchCompleted) EventName() string { return "sync.batch_completed" }

// Stats describes the scheduler loop.
type Stats struct {
	Pending         int    `json:"pending"`
	TimerArmed      bool   `json:"timer_armed"`
	InFlight        bool   `json:"in_flight"`
	ResyncRequested bool   `json:"resync_requested"`
	Passes          uint64 `json:"passes"`
}

type outcomes struct {
	order []localstore.Ref
	byRef map[localstore.Ref]*Outcome
}

func newOutcomes() *outcomes {
	return &outcomes{byRef: make(map[localstore.Ref]*Outcome)}
}

func (o *outcomes) set(ref localstore.Ref, status Status, err error) {
	out, ok := o.byRef[ref]
	if !ok {
		out = &Outcome{Ref: ref}
		o.byRef[ref] = out
		o.order = append(o.order, ref)
	}
	out.Status = status
	out.Err = err
	out.Error = ""
	if err != nil {
		out.Error = err.Error()
	}
}

func (o *outcomes) has(ref localstore.Ref) bool {
	_, ok := o.byRef[ref]
	return ok
}

func (o *outcomes) list() []Outcome {
	out := make([]Outcome, 0, len(o.order))
	for _, ref := range o.order {
		out = append(out, *o.byRef[ref])
	}
	return out
}

func (o *outcomes) err() error {
	var errs []error
	for _, ref := range o.order {
		if out := o.byRef[ref]; out.Status == StatusFailed && out.Err != nil {
			errs = append(errs, out.Err)
		}
	}
	return errors.Join(errs...)
}
