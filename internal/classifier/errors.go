package classifier

import "errors"

// Sentinel errors for classification. None of them reach pipeline callers;
// they are logged and converted into keyword fallbacks.
var (
	ErrMalformedResponse = errors.New("malformed classifier response")
	ErrNoCredential      = errors.New("classifier credential not configured")
)
