package proc

// TaskContext holds the callee-saved register image a context switch
// preserves across a task: the return address, kernel stack pointer,
// and s0..s11. Caller-saved registers need no explicit handling; the
// compiler's own calling convention covers them around the switch.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// ZeroTaskContext returns a context with every field cleared, used as
// the throwaway destination for a switch that will never be resumed
// (e.g. exiting into the idle loop).
func ZeroTaskContext() TaskContext {
	return TaskContext{}
}

// GotoTrapReturn builds a context that, when switched into, resumes
// execution at trapReturnAddr with the given kernel stack pointer, the
// shape every freshly created task's context starts in. trapReturnAddr
// is the resumption address a real switch would load into ra; here it
// is carried only as bookkeeping (see Switch in processor.go).
func GotoTrapReturn(kernelStackTop uint64, trapReturnAddr uint64) TaskContext {
	return TaskContext{RA: trapReturnAddr, SP: kernelStackTop}
}
