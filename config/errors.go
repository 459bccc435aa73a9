package config

import "errors"

var (
	// ErrMissingService indicates the service name is empty.
	ErrMissingService = errors.New("config: service is required")

	// ErrNoProfiles indicates the configuration defines no profile.
	ErrNoProfiles = errors.New("config: no profiles defined")

	// ErrUnknownProfile indicates a lookup for a profile that is not defined.
	ErrUnknownProfile = errors.New("config: unknown profile")

	// ErrInvalidValue indicates a setting outside its allowed range.
	ErrInvalidValue = errors.New("config: invalid value")

	// ErrDuplicatePolicy indicates a policy listed twice in an order.
	ErrDuplicatePolicy = errors.New("config: duplicate policy in order")

	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = errors.New("config: missing environment variables")
)
