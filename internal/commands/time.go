package commands

import (
	"time"

	"github.com/google/uuid"
)

// timeNow is a package-level variable for testability.
// Tests can replace this to control time in assertions.
var timeNow = time.Now

// newLocalID generates the client-side id that follows a message through the
// whole pipeline.
var newLocalID = func() string { return uuid.NewString() }
