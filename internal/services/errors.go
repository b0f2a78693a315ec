package services

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrDuplicateNumber       = errors.New("phone number already exists")
	ErrInsufficientAvailable = errors.New("insufficient available numbers")
	ErrPoolBusy              = errors.New("phone pool is busy, try again")
	ErrPhoneFetch            = errors.New("could not fetch phone records")
	ErrPhoneUpdate           = errors.New("could not update phone records")
	ErrBlocksAlreadyAssigned = errors.New("blocks already assigned")
	ErrAssignmentNotFound    = errors.New("assignment not found")
	ErrTerritoryFetch        = errors.New("could not fetch territories")
	ErrTerritoryUpdate       = errors.New("could not update territory")
	ErrUserFetch             = errors.New("could not fetch users")
	ErrUserUpdate            = errors.New("could not update user")
	ErrUserInactive          = errors.New("user account is not active")
	ErrPhoneInUse            = errors.New("phone number already belongs to an active user")
)
