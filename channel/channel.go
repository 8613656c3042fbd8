// Package channel holds the providers that actually transmit a rendered message.
package channel

import (
	"context"
	"errors"
)

// Channel delivers one text to one phone and returns the provider message id.
// A returned error means the provider did not accept the message.
type Channel interface {
	Send(ctx context.Context, phone, text string) (string, error)
}

// ReceiptHandler receives asynchronous delivery refinements keyed by provider message id.
type ReceiptHandler func(deliverId, status string)

type DeliveryError struct {
	message   string
	permanent bool
}

func (e *DeliveryError) Error() string {
	return e.message
}

// Permanent reports that repeating the send will not help.
func (e *DeliveryError) Permanent() bool {
	return e.permanent
}

func NewDeliveryError(msg string, permanent bool) *DeliveryError {
	return &DeliveryError{message: msg, permanent: permanent}
}

// IsPermanent reports whether err is a delivery error that must not be retried.
func IsPermanent(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr) && deliveryErr.Permanent()
}
