package pdp

// Mode selects a participant's discovery topology (SPEC_FULL.md §4.19,
// grounded on original_source/src/cpp/rtps/builtin/discovery/
// participant/PDPServer.cpp): SIMPLE uses multicast SPDP exchange
// directly between peers; SERVER and CLIENT centralize discovery
// through one or more discovery servers; BACKUP is a SERVER that also
// persists its database so a failed primary server can be replaced.
type Mode int

const (
	Simple Mode = iota
	Server
	Client
	Backup
)

func (m Mode) String() string {
	switch m {
	case Simple:
		return "SIMPLE"
	case Server:
		return "SERVER"
	case Client:
		return "CLIENT"
	case Backup:
		return "BACKUP"
	default:
		return "UNKNOWN"
	}
}

// IsServer reports whether m aggregates and re-announces discovery
// data learned from clients (SERVER and BACKUP both do).
func (m Mode) IsServer() bool { return m == Server || m == Backup }
