package events

import "time"

// TransportStart is emitted when a terminating link sends an operation.
type TransportStart struct {
	Transport     string // "http" or "ws"
	Target        string
	OperationName string
	OperationType string
}

// TransportFinish is emitted when a terminating link stops handling an
// operation: response received, failure, completion or cancellation.
type TransportFinish struct {
	Transport     string
	Target        string
	OperationName string
	OperationType string
	// Status is the HTTP status code; zero when no response was read.
	Status    int
	Results   int
	Err       error
	Cancelled bool
	Duration  time.Duration
}
