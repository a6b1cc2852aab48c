package membership

import "errors"

var (
	// ErrNotFound is returned when a membership required by an operation is
	// absent.
	ErrNotFound = errors.New("membership: not found")

	// ErrInvalidRole is returned when a role's scope does not match the
	// reference type of the edge it is being attached to, or when an
	// ownership operation targets a scope that does not support ownership.
	ErrInvalidRole = errors.New("membership: role scope does not match reference type")

	// ErrAlreadyOwned is returned by GrantInitialOwnership when the
	// reference already has a primary owner.
	ErrAlreadyOwned = errors.New("membership: reference already has a primary owner")

	// ErrNotOwner is returned by TransferOwnership when the declared current
	// owner does not hold the primary-owner edge.
	ErrNotOwner = errors.New("membership: member is not the primary owner")
)
