package cli

import "errors"

// Validation errors
var (
	ErrDatabasePathEmpty = errors.New("database path cannot be empty")
	ErrListenAddrEmpty   = errors.New("listen address cannot be empty")
	ErrSMTPHostEmpty     = errors.New("SMTP host cannot be empty")
	ErrNotANumber        = errors.New("must be a number")
	ErrNotPositive       = errors.New("must be positive")
)
