package listener

import "time"

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateFetching     State = "fetching"
	StateParsing      State = "parsing"
	StateClassifying  State = "classifying"
	StatePersisting   State = "persisting"
	StateNotifying    State = "notifying"
	StateBackoff      State = "backoff"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// Status is a snapshot of one account worker.
type Status struct {
	Account    string    `json:"account"`
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"lastError,omitempty"`
	LastUID    uint32    `json:"lastUid"`
	Processed  int       `json:"processed"`
	Skipped    int       `json:"skipped"`
	Reconnects int       `json:"reconnects"`
}
