package index

// Persister defines durable storage of realm state. Consumers should depend
// on this interface rather than the concrete *DB type.
type Persister interface {
	Load() (*State, error)
	Commit(s *State) error
	Generation() (uint64, error)
}

// Verify *DB satisfies Persister at compile time.
var _ Persister = (*DB)(nil)
