package order

import "errors"

var (
	// ErrInvalidRequest quantity below one or an incomplete delivery address
	ErrInvalidRequest = errors.New("invalid order request")
	// ErrNotFound the product does not exist
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock fewer units remain than requested
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict every generated order number collided, the request may be retried
	ErrConflict = errors.New("order number conflict")
	// ErrServer persistence failed, nothing was written
	ErrServer = errors.New("order could not be stored")
)
