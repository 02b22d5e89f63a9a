// Package async provides the resumable continuation primitive behind the
// streaming pump: a task is advanced in discrete steps, suspending across
// asynchronous sub-operations without growing the call stack.
package async

import "sync/atomic"

// Action is the result of one Process step.
type Action int

const (
	// Scheduled means the step started an asynchronous sub-operation
	// whose completion will be delivered to Succeeded or Failed.
	Scheduled Action = iota

	// Done means the task has no further steps.
	Done
)

// Task is a resumable operation advanced one step at a time.
//
// Process is never invoked concurrently with itself. A step either
// finishes the task (Done), schedules a sub-operation (Scheduled), or
// fails by returning an error.
type Task interface {
	Process() (Action, error)
}

// Completer is an optional Task extension notified exactly once when the
// iteration reaches a terminal state, before the parent callback runs.
// Cleanup of resources held across steps belongs here.
type Completer interface {
	OnComplete(err error)
}

// Callback receives the terminal outcome of the iteration.
type Callback interface {
	Succeeded()
	Failed(err error)
}

// Iterator drives a Task to completion across asynchronous resumptions.
//
// The iterator is the continuation for the task's sub-operations: pass it
// as the completion callback of whatever Process schedules. Completions
// delivered while Process is still running are absorbed and the loop
// continues in place, so a sub-operation that completes synchronously
// never recurses; completions delivered later resume the loop on the
// delivering goroutine. Either way each step finishes and yields control
// before the next begins, bounding stack depth for arbitrarily long
// streams.
type Iterator struct {
	state  atomic.Int32
	task   Task
	parent Callback
}

const (
	stateIdle int32 = iota
	stateProcessing
	statePending
	stateCalled
	stateComplete
)

// NewIterator creates an iterator for task whose terminal outcome is
// forwarded to parent.
func NewIterator(task Task, parent Callback) *Iterator {
	return &Iterator{task: task, parent: parent}
}

// Iterate starts or restarts processing. Calling it while the task is
// already running is a no-op.
func (it *Iterator) Iterate() {
	if it.state.CompareAndSwap(stateIdle, stateProcessing) {
		it.processing()
	}
}

func (it *Iterator) processing() {
	for {
		action, err := it.task.Process()
		if err != nil {
			it.complete(err)
			return
		}
		switch action {
		case Done:
			it.complete(nil)
			return

		case Scheduled:
			if it.state.CompareAndSwap(stateProcessing, statePending) {
				// Sub-operation still in flight; its completion resumes us.
				return
			}
			if it.state.CompareAndSwap(stateCalled, stateProcessing) {
				// Sub-operation completed synchronously during Process.
				continue
			}
			// Failed concurrently; complete already ran.
			return
		}
	}
}

// Succeeded resumes the iteration after a scheduled sub-operation
// completes.
func (it *Iterator) Succeeded() {
	if it.state.CompareAndSwap(stateProcessing, stateCalled) {
		return
	}
	if it.state.CompareAndSwap(statePending, stateProcessing) {
		it.processing()
	}
}

// Failed aborts the iteration with the sub-operation's error.
func (it *Iterator) Failed(err error) {
	it.complete(err)
}

func (it *Iterator) complete(err error) {
	if it.state.Swap(stateComplete) == stateComplete {
		return
	}
	if c, ok := it.task.(Completer); ok {
		c.OnComplete(err)
	}
	if err == nil {
		it.parent.Succeeded()
	} else {
		it.parent.Failed(err)
	}
}
