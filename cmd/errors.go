package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// loggedError is an error that carries the fields it should be logged with.
// Commands return these so that Execute can log them once, consistently
type loggedError struct {
	err     error
	fields  log.Fields
	message string
}

func (le loggedError) Error() string {
	return fmt.Sprintf("%v: %v", le.message, le.err)
}

func (le loggedError) Unwrap() error {
	return le.err
}

// flagError is returned when the command line doesn't make sense. The usage
// is printed instead of a log message
type flagError struct {
	usage string
}

func (f flagError) Error() string {
	return f.usage
}
