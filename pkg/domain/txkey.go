package domain

import "github.com/google/uuid"

// TransactionKey scopes a set of pending writes until commit or abort.
// The zero value means "no transaction": calls auto-commit.
type TransactionKey struct {
	id string
}

// NewTransactionKey creates a fresh, unique key.
func NewTransactionKey() TransactionKey {
	return TransactionKey{id: uuid.NewString()}
}

// IsZero reports whether the key is the auto-commit sentinel.
func (k TransactionKey) IsZero() bool {
	return k.id == ""
}

func (k TransactionKey) String() string {
	if k.id == "" {
		return "<none>"
	}
	return k.id
}
