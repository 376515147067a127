package domain

import (
	"github.com/google/uuid"
)

// ItemID is the stable, globally unique identifier of an item.
type ItemID string

// NewItemID generates a random item identifier.
func NewItemID() ItemID {
	return ItemID(uuid.NewString())
}

func (id ItemID) String() string {
	return string(id)
}

// Agent identifies the caller requesting an operation.
type Agent struct {
	ID   ItemID `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`

	// Delegate is the agent acting on behalf of ID, if any.
	Delegate ItemID `json:"delegate,omitempty"`
}
