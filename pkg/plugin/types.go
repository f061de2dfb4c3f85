package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeProcessor plugins rewrite or enrich normalized provider results,
	// for example rendering markdown into HTML before delivery.
	TypeProcessor Type = "processor"
	// TypeDataSource plugins feed auxiliary data into the host application.
	TypeDataSource Type = "datasource"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)

// ResultPayload is the normalized result handed to processor plugins.
// Processors may mutate it in place; the host copies the fields back
// into its own result envelope afterwards.
type ResultPayload struct {
	Text string
	HTML string
}
