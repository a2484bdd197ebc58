package backdoor

import "errors"

// ErrUnsupportedPlatform is returned by Command, Outs and Ins on any
// architecture other than amd64. The backdoor is an x86 CPU-trap
// convention; there is nothing to emulate it with elsewhere.
var ErrUnsupportedPlatform = errors.New("backdoor: unsupported platform, amd64 required")

// Port is the three-operation backdoor primitive every higher layer of this
// module is built on. Implementations mutate frame in place and report
// whether the trap itself could be issued — not whether the hypervisor
// accepted whatever command was encoded into the frame, which callers
// determine by inspecting the returned register values.
type Port interface {
	// Command executes a single hypervisor trap (the "inl %dx,%eax" form).
	Command(frame *Frame) error
	// Outs streams frame.ECX bytes from the buffer addressed by frame.ESI
	// to the port in frame.EDX's low half ("rep outsb").
	Outs(frame *Frame) error
	// Ins streams frame.ECX bytes from the port in frame.EDX's low half
	// into the buffer addressed by frame.EDI ("rep insb").
	Ins(frame *Frame) error
}

// Default is the platform backdoor implementation. Every transport
// operation in pkg/rpcchannel goes through this unless a test substitutes
// its own Port.
var Default Port = defaultPort{}

type defaultPort struct{}

func (defaultPort) Command(frame *Frame) error { return command(frame) }
func (defaultPort) Outs(frame *Frame) error     { return outs(frame) }
func (defaultPort) Ins(frame *Frame) error      { return ins(frame) }
