// Package trap implements the user/kernel trap boundary: the saved
// register image a trap swaps through, and the dispatcher that
// classifies a trap and routes it to the syscall layer, the stack-growth
// path, or process termination.
package trap

// TrapContext is the saved user register image, held at the fixed
// TrapContext virtual address in every user address space. x holds the
// 32 general-purpose registers (x[10]..x[17] are a0..a7, the syscall
// argument and id registers); the remaining fields let trap_return swap
// back into the kernel's page table and stack without any other state.
type TrapContext struct {
	X           [32]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// SetSP sets the saved stack pointer (x2, ABI name sp).
func (c *TrapContext) SetSP(sp uint64) { c.X[2] = sp }

// sppUser is the bit pattern AppInitContext stamps into Sstatus to mark
// the trapped-from privilege level as U-mode, so sret drops back to
// user mode rather than re-entering supervisor mode.
const sppUser = 0

// AppInitContext builds the TrapContext a freshly created or exec'd
// task resumes into: program counter at entry, stack pointer at sp, and
// enough kernel-side bookkeeping (satp, kernel sp, trap_handler address)
// for the next trap to find its way back into the kernel.
func AppInitContext(entry, sp, kernelSatp, kernelSP, trapHandler uint64) TrapContext {
	cx := TrapContext{
		Sstatus:     sppUser,
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	cx.SetSP(sp)
	return cx
}
