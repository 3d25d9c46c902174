package inventory

import (
	"context"
	"fmt"
)

// Registry resolves movement types by code. It is loaded once at startup;
// processing code treats an unknown code as a configuration failure rather
// than picking an arbitrary record.
type Registry struct {
	byCode map[string]MovementType
}

// NewRegistry builds a Registry from preloaded movement types.
func NewRegistry(types []MovementType) *Registry {
	byCode := make(map[string]MovementType, len(types))
	for _, mt := range types {
		byCode[mt.Code] = mt
	}
	return &Registry{byCode: byCode}
}

// LoadRegistry reads the active movement types from storage.
func LoadRegistry(ctx context.Context, repo *Repository) (*Registry, error) {
	types, err := repo.MovementTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: load movement types: %w", err)
	}
	return NewRegistry(types), nil
}

// Resolve returns the movement type for code or a MissingMovementTypeError.
func (r *Registry) Resolve(code string) (MovementType, error) {
	mt, ok := r.byCode[code]
	if !ok {
		return MovementType{}, &MissingMovementTypeError{Code: code}
	}
	return mt, nil
}
