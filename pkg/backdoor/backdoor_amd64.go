//go:build amd64

package backdoor

// command, outs and ins are implemented in backdoor_amd64.s. Each loads the
// seven Frame slots into the matching CPU register (EAX..EBP, in the frame's
// field order), executes the named string-I/O or single-command form of the
// "in"/"outs"/"insb" instruction pair the VMware backdoor convention traps
// on, and copies the post-instruction registers back into the frame.
//
// These never fail at the Go level — the trap either executes or the
// process doesn't have I/O privilege and faults, which is not something a
// return value can carry. Success/failure of the *command* encoded in the
// frame is a property of the register values the caller reads back out,
// per the reply-bit conventions in pkg/rpcchannel.

// Supported reports whether this build can issue real backdoor traps.
const Supported = true

//go:noescape
func asmCommand(frame *Frame)

//go:noescape
func asmOuts(frame *Frame)

//go:noescape
func asmIns(frame *Frame)

func command(frame *Frame) error {
	asmCommand(frame)
	return nil
}

func outs(frame *Frame) error {
	asmOuts(frame)
	return nil
}

func ins(frame *Frame) error {
	asmIns(frame)
	return nil
}
