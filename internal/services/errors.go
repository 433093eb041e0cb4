package services

import (
	"time"

	"github.com/pkg/errors"
)

// Domain errors returned by the registries
var (
	ErrNotFound              = errors.New("not found")
	ErrExpired               = errors.New("key expired")
	ErrConsumerLimitExceeded = errors.New("consumer limit exceeded")
	ErrDuplicateToken        = errors.New("duplicate token")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrBlocked               = errors.New("blocked")
	ErrUnsupported           = errors.New("unsupported on permanent entries")
	ErrInvalidArgument       = errors.New("invalid argument")
)

// errUnchanged aborts a collection update without writing
var errUnchanged = errors.New("unchanged")

// Clock returns the current time; registries take one so tests can move time
type Clock func() time.Time
