package persist

import (
	"go.uber.org/zap"

	"github.com/mauzec/todo-keeper/storage"
)

// Vault keeps exactly one prior generation of the primary envelope in
// the backup slot. Not a history log: every rotation overwrites the
// previous backup.
type Vault struct {
	medium storage.Medium
	logger *zap.Logger
}

func NewVault(medium storage.Medium, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{medium: medium, logger: logger}
}

// Rotate copies the current primary payload into the backup slot, so
// the envelope about to be replaced stays recoverable. A missing
// primary (fresh store) rotates nothing.
func (v *Vault) Rotate() error {
	current, ok, err := v.medium.Get(StateKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return v.medium.Set(BackupKey, current)
}

// Recover returns the backup payload, if any.
func (v *Vault) Recover() (string, bool, error) {
	return v.medium.Get(BackupKey)
}
