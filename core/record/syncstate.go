package record

import "fmt"

// SyncState tags where a local object or shadow stands relative to the remote store.
type SyncState int

const (
	UpToDate SyncState = iota
	Dirty
	Syncing
)

func (s SyncState) String() string {
	switch s {
	case UpToDate:
		return "up_to_date"
	case Dirty:
		return "dirty"
	case Syncing:
		return "syncing"
	default:
		return fmt.Sprintf("sync_state(%d)", int(s))
	}
}

// ParseSyncState is the inverse of SyncState.String.
func ParseSyncState(s string) (SyncState, error) {
	switch s {
	case "up_to_date":
		return UpToDate, nil
	case "dirty":
		return Dirty, nil
	case "syncing":
		return Syncing, nil
	default:
		return UpToDate, fmt.Errorf("unknown sync state %q", s)
	}
}

// MarshalText renders the state by name.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *SyncState) UnmarshalText(text []byte) error {
	v, err := ParseSyncState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
