//go:build !amd64

package backdoor

// Supported reports whether this build can issue real backdoor traps.
const Supported = false

func command(frame *Frame) error { return ErrUnsupportedPlatform }

func outs(frame *Frame) error { return ErrUnsupportedPlatform }

func ins(frame *Frame) error { return ErrUnsupportedPlatform }
