// Package vmtoolsd implements a guest-side agent for the VMware "backdoor"
// guest-host protocol: it opens a Tools Command Loop (TCLO) channel to the
// hypervisor, answers the host's command stream, and reports guest
// metadata (hostname, OS label, uptime, per-NIC addresses) via the RPCI
// channel.
package vmtoolsd

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vorteil/vmtoolsd/pkg/backdoor"
	"github.com/vorteil/vmtoolsd/pkg/rpcchannel"
)

// loopWaitMs is the backoff ceiling: while the host is quiet, each
// iteration's sleep grows by 5ms until it caps here.
const loopWaitMs = 5000

// Agent is the process-wide singleton state: interface count and hostname
// are read-only after Start; tclo is owned exclusively by the dispatch
// goroutine.
type Agent struct {
	Hooks          Hooks
	InterfaceCount int
	Hostname       string

	port  backdoor.Port
	tclo  rpcchannel.Channel
	delay int

	metricsMu     sync.Mutex
	commandCounts map[string]uint64
	unknownCount  uint64
	errorCount    uint64
}

// Snapshot is a point-in-time read of the agent's observability counters,
// consumed by pkg/exporter's Prometheus collector. It is additive
// instrumentation with no effect on protocol behavior.
type Snapshot struct {
	DelayMs       int
	CommandCounts map[string]uint64
	UnknownCount  uint64
	ErrorCount    uint64
}

// Snapshot returns a copy of the agent's current counters, safe to call
// from any goroutine.
func (a *Agent) Snapshot() Snapshot {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()

	counts := make(map[string]uint64, len(a.commandCounts))
	for k, v := range a.commandCounts {
		counts[k] = v
	}
	return Snapshot{
		DelayMs:       a.delay,
		CommandCounts: counts,
		UnknownCount:  a.unknownCount,
		ErrorCount:    a.errorCount,
	}
}

func (a *Agent) getDelay() int {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	return a.delay
}

func (a *Agent) setDelay(v int) {
	a.metricsMu.Lock()
	a.delay = v
	a.metricsMu.Unlock()
}

func (a *Agent) countCommand(name string) {
	a.metricsMu.Lock()
	a.commandCounts[name]++
	a.metricsMu.Unlock()
}

func (a *Agent) countUnknown() {
	a.metricsMu.Lock()
	a.unknownCount++
	a.metricsMu.Unlock()
}

func (a *Agent) countError() {
	a.metricsMu.Lock()
	a.errorCount++
	a.metricsMu.Unlock()
}

// New builds an Agent against the real backdoor port. Callers that want the
// dispatch loop running must still call Run. On any architecture other than
// amd64 it returns backdoor.ErrUnsupportedPlatform — the backdoor is an x86
// CPU-trap convention with no emulation available elsewhere.
func New(interfaceCount int, hostname string, hooks Hooks) (*Agent, error) {
	return NewWithPort(interfaceCount, hostname, hooks, backdoor.Default)
}

// NewWithPort is New with an explicit backdoor.Port, for tests and
// alternative transports.
func NewWithPort(interfaceCount int, hostname string, hooks Hooks, port backdoor.Port) (*Agent, error) {
	if !backdoor.Supported {
		return nil, backdoor.ErrUnsupportedPlatform
	}

	return &Agent{
		Hooks:          hooks,
		InterfaceCount: interfaceCount,
		Hostname:       hostname,
		port:           port,
		commandCounts:  make(map[string]uint64, len(commandTable)),
	}, nil
}

// Run spawns the agent's dispatch loop as a detached goroutine and returns
// immediately; the loop runs until the process exits.
func (a *Agent) Run() {
	go a.run()
}

// Start is a convenience wrapper combining New and Run for callers that
// have no use for the *Agent handle (and so can't read Snapshot). Prefer
// New+Run when metrics need to be exported.
func Start(interfaceCount int, hostname string, hooks Hooks) error {
	a, err := New(interfaceCount, hostname, hooks)
	if err != nil {
		return err
	}
	a.Run()
	return nil
}

// StartWithPort is Start with an explicit backdoor.Port.
func StartWithPort(interfaceCount int, hostname string, hooks Hooks, port backdoor.Port) error {
	a, err := NewWithPort(interfaceCount, hostname, hooks, port)
	if err != nil {
		return err
	}
	a.Run()
	return nil
}

// run is the long-lived TCLO dispatch loop. It never returns.
func (a *Agent) run() {
	for {
		delay := a.getDelay()
		if delay < loopWaitMs {
			a.setDelay(delay + 5)
		}

		if a.tclo.Closed() {
			a.setDelay(0)
			delay = 0

			if err := a.tclo.Open(a.port, rpcchannel.ProtoTCLO); err != nil {
				a.logErr("unable to reopen TCLO channel: %v", err)
				a.countError()
				time.Sleep(time.Duration(delay) * time.Millisecond)
				continue
			}

			if err := a.tclo.Send(a.port, []byte(replyResetOK)); err != nil {
				a.logErr("failed to send reset reply: %v", err)
				a.tclo.ErrorFlag = true
			} else {
				a.tclo.ErrorFlag = false
			}
		}

		if a.tclo.PingPending {
			if err := a.tclo.Send(a.port, nil); err != nil {
				a.logErr("failed to send TCLO outgoing ping: %v", err)
				a.tclo.ErrorFlag = true
			}
		}

		if !a.tclo.ErrorFlag {
			a.pollAndDispatch()
		}

		if a.tclo.ErrorFlag {
			a.countError()
			if err := a.tclo.Close(a.port); err != nil {
				a.logErr("error closing TCLO channel: %v", err)
			}
			// Close always tears down the local channel state regardless of
			// the wire-level reply (pkg/rpcchannel's Close unconditionally
			// zeroes id/cookies), matching vm_rpc_close's unconditional
			// "return 0" in the reference implementation — a bad close reply
			// must not leave ErrorFlag stuck and the loop unable to dispatch
			// again.
			a.tclo.ErrorFlag = false
		}

		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

func (a *Agent) pollAndDispatch() {
	length, dataID, err := a.tclo.GetLength(a.port)
	if err != nil {
		a.logErr("failed to get length of incoming TCLO data: %v", err)
		a.tclo.ErrorFlag = true
		return
	}
	if length == 0 {
		a.tclo.PingPending = true
		return
	}
	if int(length) >= rpcchannel.BufferCapacity {
		length = rpcchannel.BufferCapacity - 1
	}
	if err := a.tclo.GetData(a.port, length, dataID, a.tclo.Buffer[:]); err != nil {
		a.logErr("failed to get incoming TCLO data: %v", err)
		a.tclo.ErrorFlag = true
		return
	}
	a.tclo.PingPending = false

	a.dispatch(a.tclo.Buffer[:length])
}

func (a *Agent) logErr(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if a.Hooks != nil {
		a.Hooks.ErrPrint(msg)
	}
	logrus.Error(msg)
}
