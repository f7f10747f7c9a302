package room

import (
	"errors"

	"github.com/hashicorp/go-hclog"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInvariant    = errors.New("queue invariant violated")
	ErrIdExhausted  = errors.New("could not allocate a fresh room id")
)

// StrictInvariants turns invariant violations into panics. Tests switch it on; in production a violation is only
// logged, the process keeps serving the other rooms.
var StrictInvariants = false

func reportViolation(logger hclog.Logger, err error) {
	if StrictInvariants {
		panic(err)
	}
	logger.Error("invariant violated", "error", err)
}
