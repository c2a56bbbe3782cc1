package engine

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

type controlKind int

const (
	controlPause controlKind = iota + 1
	controlCancel
)

// controlRequest is handed to an in-process step loop so that pause and cancel are applied
// by the loop itself instead of racing its writes.
type controlRequest struct {
	kind   controlKind
	reason string
	reply  chan controlReply
}

type controlReply struct {
	result  *schema.Result
	err     error
	handled bool
}

// executionRun tracks an execution that is owned by an operation in this process.
type executionRun struct {
	id      string
	stepCtx context.Context // cancelled to interrupt in-flight actions
	cancel  context.CancelFunc
	control chan controlRequest
}

const controlBuffer = 4

// poll returns a pending control request without blocking.
func (r *executionRun) poll() (controlRequest, bool) {
	select {
	case req := <-r.control:
		return req, true
	default:
		return controlRequest{}, false
	}
}

// claim registers id as owned by the caller. A second claim fails with CONFLICT until release.
func (e *engineImpl) claim(ctx context.Context, id string) (*executionRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[id]; ok {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "execution %s is already running", id).
			WithDetails(map[string]any{"execution_id": id})
	}
	stepCtx, cancel := context.WithCancel(ctx)
	run := &executionRun{
		id:      id,
		stepCtx: stepCtx,
		cancel:  cancel,
		control: make(chan controlRequest, controlBuffer),
	}
	e.running[id] = run
	return run, nil
}

// release unregisters run. Control requests that arrived too late are answered as unhandled
// so their senders fall back to the stored record.
func (e *engineImpl) release(run *executionRun) {
	e.mu.Lock()
	delete(e.running, run.id)
	e.mu.Unlock()
	run.cancel()

	for {
		req, ok := run.poll()
		if !ok {
			return
		}
		req.reply <- controlReply{}
	}
}

// deliver hands req to the loop owning id. ok is false when no loop owns it.
func (e *engineImpl) deliver(ctx context.Context, id string, req controlRequest) (controlReply, bool, error) {
	req.reply = make(chan controlReply, 1)

	e.mu.Lock()
	run, ok := e.running[id]
	if !ok {
		e.mu.Unlock()
		return controlReply{}, false, nil
	}
	select {
	case run.control <- req:
	default:
		e.mu.Unlock()
		return controlReply{}, true, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s has too many pending control requests", id)
	}
	if req.kind == controlCancel {
		run.cancel()
	}
	e.mu.Unlock()

	select {
	case rep := <-req.reply:
		return rep, rep.handled, nil
	case <-ctx.Done():
		return controlReply{}, true, ctx.Err()
	}
}

// pendingControl reports the number of queued control requests for id.
func (e *engineImpl) pendingControl(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.running[id]; ok {
		return len(run.control)
	}
	return 0
}

// applyControl executes a delivered request on the loop's working record and answers it.
func (e *engineImpl) applyControl(ctx context.Context, req controlRequest, rec *schema.ExecutionRecord) (*schema.Result, error) {
	var (
		res *schema.Result
		err error
	)
	switch req.kind {
	case controlPause:
		res, err = e.pauseRecord(ctx, rec)
	case controlCancel:
		res, err = e.cancelRecord(ctx, rec, req.reason)
	}
	req.reply <- controlReply{result: res, err: err, handled: true}
	return res, err
}
