package dualwrite

// State is the position of a write in its lifecycle. Transitions:
//
//	Pending -> Rejected                      local pre-check denied
//	Pending -> CacheWritten                  optimistic apply (queued when offline)
//	CacheWritten -> RemoteSubmitted          handed to the authoritative store
//	RemoteSubmitted -> Committed             accepted remotely
//	RemoteSubmitted -> RolledBack            refused remotely, cache restored
//
// Rejected, Committed and RolledBack are terminal.
type State int

const (
	StatePending State = iota
	StateRejected
	StateCacheWritten
	StateRemoteSubmitted
	StateCommitted
	StateRolledBack
)

var stateNames = map[State]string{
	StatePending:         "pending",
	StateRejected:        "rejected",
	StateCacheWritten:    "cache_written",
	StateRemoteSubmitted: "remote_submitted",
	StateCommitted:       "committed",
	StateRolledBack:      "rolled_back",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCommitted, StateRolledBack:
		return true
	}
	return false
}
