package vmtoolsd

// Hooks is the embedder surface the agent calls into for the host OS
// actions the TCLO handlers trigger. None of these are implemented by this
// module; the embedding program supplies them.
type Hooks interface {
	// UptimeForTools returns seconds since boot.
	UptimeForTools() int
	// ShutdownForTools initiates system halt. May not return.
	ShutdownForTools()
	// RebootForTools initiates reboot. May not return.
	RebootForTools()
	// ErrPrint is the diagnostic sink for conditions the agent cannot
	// otherwise report (the transport has no console of its own).
	ErrPrint(msg string)
}
