// Package rpcchannel implements the VMware backdoor's logical RPC channel:
// open/close, length-prefixed send, and length+id receive with
// acknowledgement, built on top of pkg/backdoor's register-frame primitive.
package rpcchannel

import (
	"errors"
	"unsafe"

	"github.com/vorteil/vmtoolsd/pkg/backdoor"
)

// Proto selects which logical channel OPEN establishes.
const (
	ProtoRPCI = 0x49435052
	ProtoTCLO = 0x4F4C4354
)

const (
	cmdRPC       = 0x1e
	subOpen      = 0x00
	subSetLength = 0x01
	subGetLength = 0x03
	subGetEnd    = 0x05
	subClose     = 0x06

	replySuccess = 0x0001
	replyDoRecv  = 0x0002

	flagCookie  = 0x80000000
	enhDataMagic = 0x00010000
)

// BufferCapacity is the scratch buffer size every channel's caller is
// expected to format into and receive into; it bounds both outgoing RPCI
// command strings and incoming TCLO payloads.
const BufferCapacity = 4096

var (
	ErrOpenFailed      = errors.New("rpcchannel: open failed")
	ErrSetLengthFailed = errors.New("rpcchannel: send length failed")
	ErrSendDataFailed  = errors.New("rpcchannel: send data failed")
	ErrGetLengthFailed = errors.New("rpcchannel: get length failed")
	ErrGetDataFailed   = errors.New("rpcchannel: get data failed")
	ErrAckFailed       = errors.New("rpcchannel: data ack failed")
	ErrCloseFailed     = errors.New("rpcchannel: close failed")
)

// Channel is one logical TCLO or RPCI connection to the host. Its zero value
// is a closed channel, ready to Open.
type Channel struct {
	ID       uint16
	CookieHi uint32
	CookieLo uint32

	// ErrorFlag is set by any failed transport operation on this channel.
	// Callers must stop issuing commands on it until it is closed and a
	// fresh Channel opened in its place.
	ErrorFlag bool

	// PingPending marks that the next TCLO iteration owes the host a
	// zero-length keepalive send. Only meaningful on the TCLO channel.
	PingPending bool

	// OSInfoSent marks that the OS_NAME_FULL/OS_NAME guest-info pair has
	// already gone out once this process lifetime. Only meaningful on the
	// TCLO channel.
	OSInfoSent bool

	// Buffer is reused across outgoing command formatting, incoming TCLO
	// payloads, and RPCI replies — by design; a caller must consume a
	// reply before starting another formatter write.
	Buffer [BufferCapacity]byte
}

// Closed reports whether the channel id and both cookies are all zero.
func (c *Channel) Closed() bool {
	return c.ID == 0 && c.CookieHi == 0 && c.CookieLo == 0
}

// Open issues the OPEN command for the given logical protocol and, on
// success, populates ID/CookieHi/CookieLo from the host's reply.
func (c *Channel) Open(port backdoor.Port, proto uint32) error {
	var f backdoor.Frame
	f.EAX.SetWord(backdoor.Magic)
	f.EBX.SetWord(proto | flagCookie)
	f.ECX.SetLow(cmdRPC)
	f.ECX.SetHigh(subOpen)
	f.EDX.SetLow(backdoor.PortCmd)
	f.EDX.SetHigh(0)

	if err := port.Command(&f); err != nil {
		return err
	}
	if f.ECX.High() != 1 || f.EDX.Low() != 0 {
		return ErrOpenFailed
	}

	c.ID = f.EDX.High()
	c.CookieHi = f.ESI.Word()
	c.CookieLo = f.EDI.Word()
	return nil
}

// Send transmits data over an already-open channel: a SET_LENGTH command
// followed, if the payload is non-empty, by an enhanced-data "outs" burst.
func (c *Channel) Send(port backdoor.Port, data []byte) error {
	var f backdoor.Frame
	f.EAX.SetWord(backdoor.Magic)
	f.EBX.SetWord(uint32(len(data)))
	f.ECX.SetLow(cmdRPC)
	f.ECX.SetHigh(subSetLength)
	f.EDX.SetLow(backdoor.PortCmd)
	f.EDX.SetHigh(c.ID)
	f.ESI.SetWord(c.CookieHi)
	f.EDI.SetWord(c.CookieLo)

	if err := port.Command(&f); err != nil {
		c.ErrorFlag = true
		return err
	}
	if f.ECX.High()&replySuccess == 0 {
		c.ErrorFlag = true
		return ErrSetLengthFailed
	}
	if len(data) == 0 {
		return nil
	}

	var df backdoor.Frame
	df.EAX.SetWord(backdoor.Magic)
	df.EBX.SetWord(enhDataMagic)
	df.ECX.SetWord(uint32(len(data)))
	df.EDX.SetLow(backdoor.PortRPC)
	df.EDX.SetHigh(c.ID)
	df.EBP.SetWord(c.CookieHi)
	df.EDI.SetWord(c.CookieLo)
	df.ESI.SetQuad(uint64(uintptr(unsafe.Pointer(&data[0]))))

	if err := port.Outs(&df); err != nil {
		c.ErrorFlag = true
		return err
	}
	if df.EBX.Word() != enhDataMagic {
		c.ErrorFlag = true
		return ErrSendDataFailed
	}
	return nil
}

// GetLength polls for a pending incoming message. A zero length with a nil
// error means nothing is pending.
func (c *Channel) GetLength(port backdoor.Port) (length uint32, dataID uint16, err error) {
	var f backdoor.Frame
	f.EAX.SetWord(backdoor.Magic)
	f.EBX.SetWord(0)
	f.ECX.SetLow(cmdRPC)
	f.ECX.SetHigh(subGetLength)
	f.EDX.SetLow(backdoor.PortCmd)
	f.EDX.SetHigh(c.ID)
	f.ESI.SetWord(c.CookieHi)
	f.EDI.SetWord(c.CookieLo)

	if err := port.Command(&f); err != nil {
		c.ErrorFlag = true
		return 0, 0, err
	}
	if f.ECX.High()&replySuccess == 0 {
		c.ErrorFlag = true
		return 0, 0, ErrGetLengthFailed
	}
	if f.ECX.High()&replyDoRecv == 0 {
		return 0, 0, nil
	}
	return f.EBX.Word(), f.EDX.High(), nil
}

// GetData reads length bytes of a pending message into into[:length] and
// NUL-terminates at into[length]; the caller must supply at least
// length+1 bytes of capacity. It then acknowledges receipt with dataID.
func (c *Channel) GetData(port backdoor.Port, length uint32, dataID uint16, into []byte) error {
	var f backdoor.Frame
	f.EAX.SetWord(backdoor.Magic)
	f.EBX.SetWord(enhDataMagic)
	f.ECX.SetWord(length)
	f.EDX.SetLow(backdoor.PortRPC)
	f.EDX.SetHigh(c.ID)
	f.ESI.SetWord(c.CookieHi)
	f.EDI.SetQuad(uint64(uintptr(unsafe.Pointer(&into[0]))))
	f.EBP.SetWord(c.CookieLo)

	if err := port.Ins(&f); err != nil {
		c.ErrorFlag = true
		return err
	}
	into[length] = 0
	if f.EBX.Word() != enhDataMagic {
		c.ErrorFlag = true
		return ErrGetDataFailed
	}

	var ack backdoor.Frame
	ack.EAX.SetWord(backdoor.Magic)
	ack.EBX.SetWord(uint32(dataID))
	ack.ECX.SetLow(cmdRPC)
	ack.ECX.SetHigh(subGetEnd)
	ack.EDX.SetLow(backdoor.PortCmd)
	ack.EDX.SetHigh(c.ID)
	ack.ESI.SetWord(c.CookieHi)
	ack.EDI.SetWord(c.CookieLo)

	if err := port.Command(&ack); err != nil {
		c.ErrorFlag = true
		return err
	}
	if ack.ECX.High() == 0 {
		c.ErrorFlag = true
		return ErrAckFailed
	}
	return nil
}

// Close issues CLOSE and unconditionally zeroes ID, both cookies, and
// PingPending regardless of whether the host's reply indicates success.
func (c *Channel) Close(port backdoor.Port) error {
	var f backdoor.Frame
	f.EAX.SetWord(backdoor.Magic)
	f.EBX.SetWord(0)
	f.ECX.SetLow(cmdRPC)
	f.ECX.SetHigh(subClose)
	f.EDX.SetLow(backdoor.PortCmd)
	f.EDX.SetHigh(c.ID)
	f.ESI.SetWord(c.CookieHi)
	f.EDI.SetWord(c.CookieLo)

	cmdErr := port.Command(&f)

	c.ID = 0
	c.CookieHi = 0
	c.CookieLo = 0
	c.PingPending = false

	if cmdErr != nil {
		return cmdErr
	}
	if f.ECX.High() == 0 || f.ECX.Low() != 0 {
		return ErrCloseFailed
	}
	return nil
}
