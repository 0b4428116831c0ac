// SPDX-License-Identifier: MIT

package conductor

import "fmt"

// ErrorKind classifies why a command was rejected. Rejected commands never
// mutate state.
type ErrorKind string

const (
	ErrUnknownCommand ErrorKind = "UnknownCommand"
	ErrInvalidPhase   ErrorKind = "InvalidPhase"
	ErrMissingUser    ErrorKind = "MissingUser"
	ErrUserNoFaction  ErrorKind = "UserNoFaction"
	ErrBadPayload     ErrorKind = "BadPayload"
)

// IsValid reports whether k is a recognised error kind.
func (k ErrorKind) IsValid() bool {
	switch k {
	case ErrUnknownCommand, ErrInvalidPhase, ErrMissingUser, ErrUserNoFaction, ErrBadPayload:
		return true
	default:
		return false
	}
}

// CommandError is the typed rejection the conductor returns instead of
// raising. The surrounding server reports it through the error channel.
type CommandError struct {
	Kind    ErrorKind
	Command CommandType
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Command, e.Message, e.Kind)
}

func rejectf(kind ErrorKind, cmd CommandType, format string, args ...any) error {
	return &CommandError{Kind: kind, Command: cmd, Message: fmt.Sprintf(format, args...)}
}
