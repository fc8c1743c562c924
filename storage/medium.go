package storage

// Medium describes the synchronous string-keyed key-value store the
// engine persists through. Capacity is finite but not precisely
// queryable: implementations MUST reject writes that would exceed
// their limit with an ErrorCodeQuotaExceeded AppError, and report an
// inaccessible medium as ErrorCodeStorageUnavailable.
//
// A Medium is exclusively owned by one persistence controller per
// process; concurrent writers from other processes are not arbitrated.
type Medium interface {
	// Get returns the value for the key. A missing key is
	// ("", false, nil), not an error.
	Get(key string) (string, bool, error)
	// Set stores the value, replacing any previous one.
	Set(key, value string) error
	// Delete removes the key. Deleting a missing key is a no-op.
	Delete(key string) error

	Close() error
}
