package model

import "fmt"

type NotFoundErr struct {
	message string
}

func (e *NotFoundErr) Error() string {
	return e.message
}

func NewNotFoundError(what string, id interface{}) *NotFoundErr {
	return &NotFoundErr{message: fmt.Sprintf("%s %v not found", what, id)}
}

type AlreadyProcessingErr struct {
	message string
}

func (e *AlreadyProcessingErr) Error() string {
	return e.message
}

func NewAlreadyProcessingError(id uint32) *AlreadyProcessingErr {
	return &AlreadyProcessingErr{message: fmt.Sprintf("broadcast %d is already being processed", id)}
}

type AlreadyCompletedErr struct {
	message string
}

func (e *AlreadyCompletedErr) Error() string {
	return e.message
}

func NewAlreadyCompletedError(id uint32) *AlreadyCompletedErr {
	return &AlreadyCompletedErr{message: fmt.Sprintf("broadcast %d is already completed", id)}
}

type NotDueErr struct {
	message string
}

func (e *NotDueErr) Error() string {
	return e.message
}

func NewNotDueError(id uint32) *NotDueErr {
	return &NotDueErr{message: fmt.Sprintf("broadcast %d is scheduled for later", id)}
}

type InvalidTransitionErr struct {
	message string
}

func (e *InvalidTransitionErr) Error() string {
	return e.message
}

func NewInvalidTransitionError(id uint32, from, to string) *InvalidTransitionErr {
	return &InvalidTransitionErr{message: fmt.Sprintf("recipient %d: invalid transition %s -> %s", id, from, to)}
}
