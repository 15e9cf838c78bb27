package errs

import "errors"

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrForbidden         = errors.New("access denied")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("ticket transition not allowed")
	ErrNotImage          = errors.New("media is not an image")
	ErrMediaTooLarge     = errors.New("media exceeds size limit")
)
