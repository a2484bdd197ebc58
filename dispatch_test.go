package vmtoolsd

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/vorteil/vmtoolsd/pkg/backdoor"
	"github.com/vorteil/vmtoolsd/pkg/rpcchannel"
)

// fakeHostPort is a deterministic backdoor.Port double standing in for the
// hypervisor side of both the TCLO channel and whatever transient RPCI
// channel is open at a given moment. The TCLO channel stays open while each
// RPCI channel is opened and closed, so Command/Outs/Ins are routed to the
// right half of the fake by the channel id each frame carries in EDX's high
// half.
type fakeHostPort struct {
	tcloID          uint16
	tcloCookieHi    uint32
	tcloCookieLo    uint32
	rpciID          uint16
	rpciCookieHi    uint32
	rpciCookieLo    uint32

	openProto uint32

	tcloQueue  [][]byte
	tcloSent   [][]byte

	rpciSent  [][]byte
	rpciReply func(cmd []byte) []byte

	pendingReply []byte

	closeCalls int
}

func newFakeHostPort() *fakeHostPort {
	return &fakeHostPort{
		tcloID:       1,
		tcloCookieHi: 0xAAAA,
		tcloCookieLo: 0xBBBB,
		rpciID:       2,
		rpciCookieHi: 0xCCCC,
		rpciCookieLo: 0xDDDD,
		rpciReply:    func([]byte) []byte { return []byte("1 ") },
	}
}

func (p *fakeHostPort) Command(f *backdoor.Frame) error {
	const (
		subOpen      = 0x00
		subSetLength = 0x01
		subGetLength = 0x03
		subGetEnd    = 0x05
		subClose     = 0x06
		replySuccess = 0x0001
		replyDoRecv  = 0x0002
		flagCookie   = 0x80000000
	)

	switch f.ECX.High() {
	case subOpen:
		proto := f.EBX.Word() &^ uint32(flagCookie)
		f.ECX.SetHigh(1)
		f.EDX.SetLow(0)
		if proto == rpcchannel.ProtoTCLO {
			p.openProto = rpcchannel.ProtoTCLO
			f.EDX.SetHigh(p.tcloID)
			f.ESI.SetWord(p.tcloCookieHi)
			f.EDI.SetWord(p.tcloCookieLo)
		} else {
			p.openProto = rpcchannel.ProtoRPCI
			f.EDX.SetHigh(p.rpciID)
			f.ESI.SetWord(p.rpciCookieHi)
			f.EDI.SetWord(p.rpciCookieLo)
		}
	case subSetLength:
		f.ECX.SetHigh(replySuccess)
	case subGetLength:
		if f.EDX.High() == p.tcloID {
			if len(p.tcloQueue) == 0 {
				f.ECX.SetHigh(replySuccess)
				return nil
			}
			f.ECX.SetHigh(replySuccess | replyDoRecv)
			f.EBX.SetWord(uint32(len(p.tcloQueue[0])))
			f.EDX.SetHigh(0)
		} else {
			if p.pendingReply == nil {
				f.ECX.SetHigh(replySuccess)
				return nil
			}
			f.ECX.SetHigh(replySuccess | replyDoRecv)
			f.EBX.SetWord(uint32(len(p.pendingReply)))
			f.EDX.SetHigh(0)
		}
	case subGetEnd:
		f.ECX.SetHigh(1)
		if f.EDX.High() == p.tcloID {
			if len(p.tcloQueue) > 0 {
				p.tcloQueue = p.tcloQueue[1:]
			}
		} else {
			p.pendingReply = nil
		}
	case subClose:
		p.closeCalls++
		f.ECX.SetHigh(1)
		f.ECX.SetLow(0)
		p.openProto = 0
	}
	return nil
}

func (p *fakeHostPort) Outs(f *backdoor.Frame) error {
	ptr := uintptr(f.ESI.Quad())
	n := int(f.ECX.Word())
	buf := append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)...)

	if f.EDX.High() == p.tcloID {
		p.tcloSent = append(p.tcloSent, buf)
	} else {
		p.rpciSent = append(p.rpciSent, buf)
		p.pendingReply = p.rpciReply(buf)
	}
	f.EBX.SetWord(0x00010000)
	return nil
}

func (p *fakeHostPort) Ins(f *backdoor.Frame) error {
	ptr := uintptr(f.EDI.Quad())
	n := int(f.ECX.Word())
	buf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)

	if f.EDX.High() == p.tcloID {
		if len(p.tcloQueue) > 0 {
			copy(buf, p.tcloQueue[0])
		}
	} else {
		copy(buf, p.pendingReply)
	}
	f.EBX.SetWord(0x00010000)
	return nil
}

type fakeHooks struct {
	shutdownCalls int
	rebootCalls   int
}

func (f *fakeHooks) UptimeForTools() int  { return 0 }
func (f *fakeHooks) ShutdownForTools()    { f.shutdownCalls++ }
func (f *fakeHooks) RebootForTools()      { f.rebootCalls++ }
func (f *fakeHooks) ErrPrint(msg string)  {}

func newTestAgent(p *fakeHostPort, hooks Hooks) *Agent {
	return &Agent{
		port:          p,
		Hooks:         hooks,
		InterfaceCount: 1,
		Hostname:      "vm1",
		commandCounts: make(map[string]uint64),
	}
}

func TestColdStartOpensTCLOAndSendsResetReply(t *testing.T) {
	p := newFakeHostPort()
	a := newTestAgent(p, nil)

	assert.True(t, a.tclo.Closed())
	err := a.tclo.Open(a.port, rpcchannel.ProtoTCLO)
	assert.NoError(t, err)
	assert.False(t, a.tclo.Closed())

	err = a.tclo.Send(a.port, []byte(replyResetOK))
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(replyResetOK)}, p.tcloSent)
}

func TestDispatchUnknownCommand(t *testing.T) {
	p := newFakeHostPort()
	a := newTestAgent(p, nil)
	assert.NoError(t, a.tclo.Open(a.port, rpcchannel.ProtoTCLO))

	a.dispatch([]byte("hello"))

	assert.Equal(t, [][]byte{[]byte(replyUnknownCmd)}, p.tcloSent)
	assert.Len(t, replyUnknownCmd, 21)
	assert.Equal(t, uint64(1), a.Snapshot().UnknownCount)
}

func TestPingSingleInterfaceSequence(t *testing.T) {
	p := newFakeHostPort()
	a := newTestAgent(p, nil)
	assert.NoError(t, a.tclo.Open(a.port, rpcchannel.ProtoTCLO))

	ping(a)

	if assert.Len(t, p.rpciSent, 5) {
		assert.Contains(t, string(p.rpciSent[0]), "SetGuestInfo  7 ")
		assert.Contains(t, string(p.rpciSent[1]), "SetGuestInfo  1 vm1")
		assert.Equal(t, 120, len(p.rpciSent[2]))
		assert.Contains(t, string(p.rpciSent[3]), "SetGuestInfo  5 vorteil.io 1.0 amd64_x86")
		assert.Contains(t, string(p.rpciSent[4]), "SetGuestInfo  6 other-64")
	}
	assert.True(t, a.tclo.OSInfoSent)
	assert.Equal(t, []byte(replyOKText), p.tcloSent[len(p.tcloSent)-1])
}

func TestSecondPingDoesNotResendOSInfo(t *testing.T) {
	p := newFakeHostPort()
	a := newTestAgent(p, nil)
	assert.NoError(t, a.tclo.Open(a.port, rpcchannel.ProtoTCLO))

	ping(a)
	p.rpciSent = nil

	ping(a)

	assert.Len(t, p.rpciSent, 3)
	assert.Contains(t, string(p.rpciSent[0]), "SetGuestInfo  7 ")
	assert.Contains(t, string(p.rpciSent[1]), "SetGuestInfo  1 vm1")
	assert.Equal(t, 120, len(p.rpciSent[2]))
}

func TestCapabilitiesRegisterSendsThreeRPCIsThenOK(t *testing.T) {
	p := newFakeHostPort()
	a := newTestAgent(p, nil)
	assert.NoError(t, a.tclo.Open(a.port, rpcchannel.ProtoTCLO))

	capabilitiesRegister(a)

	assert.Len(t, p.rpciSent, 3)
	assert.Equal(t, "vmx.capability.unified_loop toolbox", string(p.rpciSent[0]))
	assert.Equal(t, "tools.capability.statechange ", string(p.rpciSent[1]))
	assert.Contains(t, string(p.rpciSent[2]), "tools.set.version ")
	assert.Equal(t, []byte(replyOKText), p.tcloSent[len(p.tcloSent)-1])
}

func TestOSRebootSendsStatusThenOKThenCallsHook(t *testing.T) {
	p := newFakeHostPort()
	hooks := &fakeHooks{}
	a := newTestAgent(p, hooks)
	assert.NoError(t, a.tclo.Open(a.port, rpcchannel.ProtoTCLO))

	osReboot(a)

	assert.Equal(t, [][]byte{[]byte("tools.os.statechange.status 1 2")}, p.rpciSent)
	assert.Equal(t, []byte(replyOKText), p.tcloSent[len(p.tcloSent)-1])
	assert.Equal(t, 1, hooks.rebootCalls)
}
