package chat

import "errors"

// Access and validation failures surfaced to callers. The messages are shown
// to clients as-is, so they stay human-readable.
var (
	ErrNotMember        = errors.New("not a member")
	ErrAccessDenied     = errors.New("access denied")
	ErrOnlyManagers     = errors.New("only managers can start direct conversations")
	ErrSelfRoom         = errors.New("cannot message yourself")
	ErrTargetInactive   = errors.New("target user is inactive")
	ErrTargetIneligible = errors.New("managers may only message employees")
	ErrEmptyBody        = errors.New("message body must not be empty")
)
