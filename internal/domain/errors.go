package domain

import (
	"errors"
	"fmt"
)

// ErrCaptchaRejected is returned by a portal session when the portal
// refuses the submitted captcha token for the current page-load.
var ErrCaptchaRejected = errors.New("captcha token rejected by portal")

// ErrDetailUnavailable marks a detail fetch whose retry budget ran out.
// The resulting record is degraded but valid.
var ErrDetailUnavailable = errors.New("detail page unavailable")

// ErrSessionClosed is returned from operations on a closed session.
var ErrSessionClosed = errors.New("portal session closed")

// CaptchaExhaustedError is the terminal failure of one page-load's
// captcha budget. The caller decides between a page-level retry and
// skipping the page.
type CaptchaExhaustedError struct {
	Attempts int
}

func (e *CaptchaExhaustedError) Error() string {
	return fmt.Sprintf("captcha exhausted after %d attempts", e.Attempts)
}

// IsCaptchaExhausted reports whether err wraps a CaptchaExhaustedError.
func IsCaptchaExhausted(err error) bool {
	var ce *CaptchaExhaustedError
	return errors.As(err, &ce)
}
