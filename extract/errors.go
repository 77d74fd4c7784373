package extract

import "errors"

// ErrCaptchaExhausted is returned when every CAPTCHA attempt for a
// station was rejected or timed out. Transient: a re-run may succeed.
var ErrCaptchaExhausted = errors.New("extract: captcha retries exhausted")

// ErrBadShape is returned when the results page does not have the
// expected structure. Structural: retrying will not fix a layout
// mismatch, so the station fails without further attempts.
var ErrBadShape = errors.New("extract: unexpected results page shape")
