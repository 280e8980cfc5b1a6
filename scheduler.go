package netscen

// scheduler.go holds structs, methods and data structures that
// support scheduling of frame transmissions on media that are limited.

// When a task is scheduled the caller specifies how much service is required
// (the transmission time of the frame).  A task in service holds one channel of the
// medium for its whole requirement; transmission is never preempted.  Allocation
// of channels is first-come first-serve.  A shared segment is one channel for all
// attached interfaces, a point-to-point link one channel per direction.

import (
	"container/heap"
	"math"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// Task describes the service requirements of one frame on a medium
type Task struct {
	OpType       string                    // what operation is being performed
	req          time.Duration             // required service
	finish       time.Duration             // virtual time service completes, set on entry
	startFunc    evtm.EventHandlerFunction // call when service begins, may be nil
	completeFunc evtm.EventHandlerFunction // call when finished
	context      any                       // remember this from caller, to return when finished
	Msg          any                       // information package being carried
}

// createTask is a constructor
func createTask(op string, req time.Duration, msg any, context any,
	start, complete evtm.EventHandlerFunction) *Task {
	return &Task{OpType: op, req: req, Msg: msg, context: context, startFunc: start, completeFunc: complete}
}

// finishHeap and its methods implement a min-priority heap
// on the completion times of tasks in service
type finishHeap []*Task

func (h finishHeap) Len() int           { return len(h) }
func (h finishHeap) Less(i, j int) bool { return h[i].finish < h[j].finish }
func (h finishHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *finishHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *finishHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// TaskScheduler holds data structures supporting FCFS access to a medium
type TaskScheduler struct {
	channels  int        // number of frames the medium carries at once
	waiting   []*Task    // frames queued, not in service
	inservice finishHeap // frames being transmitted

	served   int           // frames whose transmission completed
	busy     time.Duration // total service given
	maxQueue int           // longest waiting queue seen
}

// CreateTaskScheduler is a constructor
func CreateTaskScheduler(channels int) *TaskScheduler {
	ops := new(TaskScheduler)
	ops.channels = max(channels, 1)
	ops.waiting = []*Task{}
	ops.inservice = []*Task{}
	heap.Init(&ops.inservice)
	return ops
}

// Schedule puts a frame either in queue to be transmitted, or in service.  Parameters are
// - op : a code for the type of work being done
// - req : the transmission time of this frame on this medium
// - context, msg : passed back to the handlers
// - start : an event handler called at the instant transmission begins
// - complete : an event handler called when transmission has completed
// The return is true if the frame was placed immediately into service.
func (ops *TaskScheduler) Schedule(evtMgr *evtm.EventManager, op string, req time.Duration,
	context any, msg any, start, complete evtm.EventHandlerFunction) bool {

	// create the Task, and remember it
	task := createTask(op, req, msg, context, start, complete)

	// either put into service or put in the waiting queue
	return ops.joinQueue(evtMgr, task)
}

// joinQueue is called to put a Task into the data structure that governs
// allocation of service
func (ops *TaskScheduler) joinQueue(evtMgr *evtm.EventManager, task *Task) bool {
	// if all the channels are busy, put in the waiting queue and return
	if ops.channels <= len(ops.inservice) {
		ops.waiting = append(ops.waiting, task)
		ops.maxQueue = max(ops.maxQueue, len(ops.waiting))
		return false
	}
	ops.enterService(evtMgr, task)
	return true
}

// enterService starts transmission of task now
func (ops *TaskScheduler) enterService(evtMgr *evtm.EventManager, task *Task) {
	task.finish = virtualNow(evtMgr) + task.req
	heap.Push(&ops.inservice, task)

	if task.startFunc != nil {
		task.startFunc(evtMgr, task.context, task.Msg)
	}

	// schedule event handler for when this transmission completes
	evtMgr.Schedule(ops, task, serviceComplete, vrtime.SecondsToTime(task.req.Seconds()))
}

// serviceComplete is called when the transmission of a task has completed
func serviceComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ops := context.(*TaskScheduler)
	task := data.(*Task)

	// get first completing task of tasks in service
	heap.Pop(&ops.inservice)
	ops.served += 1
	ops.busy += task.req

	task.completeFunc(evtMgr, task.context, task.Msg)

	// if the waiting queue is not empty we need to put its first (FCFS) member into service
	if len(ops.waiting) > 0 {
		newtask := ops.waiting[0]
		ops.waiting = ops.waiting[1:]
		ops.enterService(evtMgr, newtask)
	}
	return nil
}

// Served returns the number of frames transmitted so far
func (ops *TaskScheduler) Served() int { return ops.served }

// Busy returns the total transmission time given so far
func (ops *TaskScheduler) Busy() time.Duration { return ops.busy }

// MaxQueue returns the longest waiting queue seen
func (ops *TaskScheduler) MaxQueue() int { return ops.maxQueue }

// Queued returns the number of frames waiting for the medium
func (ops *TaskScheduler) Queued() int { return len(ops.waiting) }

// virtualNow returns the current virtual time as a Duration
func virtualNow(evtMgr *evtm.EventManager) time.Duration {
	return secondsToDuration(evtMgr.CurrentSeconds())
}

// secondsToDuration rounds to the nearest nanosecond
func secondsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// transmitTime is the time a frame of wireBytes occupies a medium of rate bits per second
func transmitTime(wireBytes int, rate uint64) time.Duration {
	return time.Duration(math.Round(float64(wireBytes) * 8 * 1e9 / float64(rate)))
}
