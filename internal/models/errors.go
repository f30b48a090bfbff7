package models

import "errors"

var (
	// ErrInvalidInput marks caller mistakes such as a labeled upload without a game name.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnprocessableMedia marks a video that produced no frames or vectors.
	ErrUnprocessableMedia = errors.New("could not process video")
	// ErrPersistence marks a failed durable write of cluster state.
	ErrPersistence = errors.New("failed to persist clusters")
	// ErrVisualization marks a failed plot render. It never fails a classify call.
	ErrVisualization = errors.New("visualization failed")
)
