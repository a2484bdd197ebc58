package vmtoolsd

import (
	"fmt"

	"github.com/vorteil/vmtoolsd/pkg/guestnic"
	"github.com/vorteil/vmtoolsd/pkg/rpcchannel"
)

// TCLO reply literals.
const (
	replyOKText    = "OK "
	replyResetOK   = "OK ATR toolbox"
	replyUnknownCmd = "ERROR Unknown command"
)

// Guest-info keys used in SetGuestInfo RPCI commands.
const (
	guestInfoDNSName    = 1
	guestInfoOSNameFull = 5
	guestInfoOSName     = 6
	guestInfoUptime     = 7
)

// State-change status codes for tools.os.statechange.status.
const (
	stateHalt     = 1
	stateReboot   = 2
	statePowerOn  = 3
	stateResume   = 4
	stateSuspend  = 5
)

const versionUnmanaged = 0x7fffffff

type commandEntry struct {
	name    string
	handler func(*Agent)
}

// commandTable is the fixed set of TCLO commands the host may send. Match
// is exact, full-string, case-sensitive; the table is short enough that a
// linear scan is the entire dispatch cost.
var commandTable = []commandEntry{
	{"Capabilities_Register", capabilitiesRegister},
	{"OS_Halt", osHalt},
	{"OS_PowerOn", osPowerOn},
	{"OS_Reboot", osReboot},
	{"OS_Resume", osResume},
	{"OS_Suspend", osSuspend},
	{"Set_Option broadcastIP 1", setOptionBroadcastIP},
	{"ping", ping},
	{"reset", resetCmd},
}

func (a *Agent) dispatch(buf []byte) {
	name := string(buf)
	for _, entry := range commandTable {
		if entry.name == name {
			a.countCommand(entry.name)
			entry.handler(a)
			return
		}
	}
	a.countUnknown()
	if err := a.tclo.Send(a.port, []byte(replyUnknownCmd)); err != nil {
		a.logErr("error sending unknown command reply: %v", err)
		a.tclo.ErrorFlag = true
	}
}

// sendRPCI formats a command into the shared buffer and pushes it over a
// fresh RPCI channel, returning the host's reply (aliasing the same
// buffer) and whether the round trip succeeded at the transport level.
func (a *Agent) sendRPCI(format string, args ...interface{}) ([]byte, bool) {
	cmd, ok := rpcchannel.FormatInto(&a.tclo.Buffer, format, args...)
	if !ok {
		a.tclo.ErrorFlag = true
		return nil, false
	}
	n, err := rpcchannel.SendRPCI(a.port, cmd, &a.tclo.Buffer)
	if err != nil {
		a.tclo.ErrorFlag = true
		return nil, false
	}
	return a.tclo.Buffer[:n], true
}

// sendRPCIBuf is sendRPCI for an already-assembled binary payload (the NIC
// info blob) rather than a formatted text command.
func (a *Agent) sendRPCIBuf(data []byte) ([]byte, bool) {
	n := copy(a.tclo.Buffer[:], data)
	n, err := rpcchannel.SendRPCI(a.port, a.tclo.Buffer[:n], &a.tclo.Buffer)
	if err != nil {
		a.tclo.ErrorFlag = true
		return nil, false
	}
	return a.tclo.Buffer[:n], true
}

func (a *Agent) sendOK() {
	if err := a.tclo.Send(a.port, []byte(replyOKText)); err != nil {
		a.logErr("error sending reply: %v", err)
		a.tclo.ErrorFlag = true
	}
}

func (a *Agent) stateChangeStatus(state int) {
	if _, ok := a.sendRPCI("tools.os.statechange.status %d %d", 1, state); !ok {
		a.logErr("unable to send state change result")
	}
}

func capabilitiesRegister(a *Agent) {
	if reply, ok := a.sendRPCI("vmx.capability.unified_loop toolbox"); ok {
		if !rpcchannel.ResponseSuccessful(reply) {
			a.logErr("host rejected unified loop setting")
		}
	} else {
		a.logErr("unable to set unified loop")
	}

	// The trailing space is significant.
	if reply, ok := a.sendRPCI("tools.capability.statechange "); ok {
		if !rpcchannel.ResponseSuccessful(reply) {
			a.logErr("host rejected statechange capability")
		}
	} else {
		a.logErr("unable to send statechange capability")
	}

	if _, ok := a.sendRPCI("tools.set.version %d", versionUnmanaged); !ok {
		a.logErr("unable to set tools version")
	}

	a.sendOK()
}

func osHalt(a *Agent) {
	a.stateChangeStatus(stateHalt)
	a.sendOK()
	if a.Hooks != nil {
		a.Hooks.ShutdownForTools()
	}
}

func osPowerOn(a *Agent) {
	a.stateChangeStatus(statePowerOn)
	a.setDelay(loopWaitMs)
	a.sendOK()
}

func osReboot(a *Agent) {
	a.stateChangeStatus(stateReboot)
	a.sendOK()
	if a.Hooks != nil {
		a.Hooks.RebootForTools()
	}
}

func osResume(a *Agent) {
	a.updateGuestInfo()
	a.stateChangeStatus(stateResume)
	a.sendOK()
}

func osSuspend(a *Agent) {
	a.stateChangeStatus(stateSuspend)
	a.sendOK()
}

func setOptionBroadcastIP(a *Agent) {
	ip, err := guestnic.QueryAddress("eth0")
	if err != nil {
		// Silent per spec: the host never sees a reply on ioctl failure.
		return
	}
	ipStr := fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	if _, ok := a.sendRPCI("info-set guestinfo.ip %s", ipStr); !ok {
		a.logErr("unable to send guest IP address")
	}
	a.sendOK()
}

func ping(a *Agent) {
	a.updateGuestUptime()
	a.updateGuestInfo()
	a.sendOK()
}

func resetCmd(a *Agent) {
	if a.tclo.ErrorFlag {
		a.logErr("resetting rpc")
		_ = a.tclo.Close(a.port)
		return
	}
	if err := a.tclo.Send(a.port, []byte(replyResetOK)); err != nil {
		a.logErr("failed to send reset reply: %v", err)
		a.tclo.ErrorFlag = true
	}
}

func (a *Agent) updateGuestInfo() {
	if _, ok := a.sendRPCI("SetGuestInfo  %d %s", guestInfoDNSName, a.Hostname); !ok {
		a.logErr("unable to set hostname")
	}

	blob := guestnic.Build(a.InterfaceCount)
	if _, ok := a.sendRPCIBuf(blob); !ok {
		a.logErr("unable to send nic info")
	}

	if !a.tclo.OSInfoSent {
		if _, ok := a.sendRPCI("SetGuestInfo  %d %s %s %s", guestInfoOSNameFull, "vorteil.io", "1.0", "amd64_x86"); !ok {
			a.logErr("unable to set full guest OS")
		}
		if _, ok := a.sendRPCI("SetGuestInfo  %d %s", guestInfoOSName, "other-64"); !ok {
			a.logErr("unable to set guest OS")
		}
		a.tclo.OSInfoSent = true
	}
}

func (a *Agent) updateGuestUptime() {
	uptime := 0
	if a.Hooks != nil {
		uptime = a.Hooks.UptimeForTools()
	}
	if _, ok := a.sendRPCI("SetGuestInfo  %d %d00", guestInfoUptime, uptime); !ok {
		a.logErr("unable to set guest uptime")
	}
}
