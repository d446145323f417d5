package pipeline

import "errors"

var (
	errMethodNotAllowed = errors.New("method not allowed")
	errAlreadyRunning   = errors.New("the export is running already")
)
