package rpc

import "strconv"

// Result is the platform status code attached to every response, carried in
// the X-eresult header. Only the codes the engine branches on are named;
// anything else is reported numerically.
type Result int32

const (
	ResultInvalid               Result = 0
	ResultOK                    Result = 1
	ResultFail                  Result = 2
	ResultInvalidPassword       Result = 5
	ResultBusy                  Result = 10
	ResultAccessDenied          Result = 15
	ResultExpired               Result = 27
	ResultServiceUnavailable    Result = 20
	ResultDuplicateRequest      Result = 29
	ResultInvalidLoginAuthCode  Result = 65
	ResultRateLimitExceeded     Result = 84
	ResultAccountLoginThrottled Result = 87
	ResultTwoFactorCodeMismatch Result = 88
)

func (r Result) String() string {
	switch r {
	case ResultInvalid:
		return "Invalid"
	case ResultOK:
		return "OK"
	case ResultFail:
		return "Fail"
	case ResultInvalidPassword:
		return "InvalidPassword"
	case ResultBusy:
		return "Busy"
	case ResultAccessDenied:
		return "AccessDenied"
	case ResultExpired:
		return "Expired"
	case ResultServiceUnavailable:
		return "ServiceUnavailable"
	case ResultDuplicateRequest:
		return "DuplicateRequest"
	case ResultInvalidLoginAuthCode:
		return "InvalidLoginAuthCode"
	case ResultRateLimitExceeded:
		return "RateLimitExceeded"
	case ResultAccountLoginThrottled:
		return "AccountLoginThrottled"
	case ResultTwoFactorCodeMismatch:
		return "TwoFactorCodeMismatch"
	default:
		return "EResult(" + strconv.Itoa(int(r)) + ")"
	}
}

// OK reports whether the call completed successfully on the platform side.
func (r Result) OK() bool {
	return r == ResultOK
}

// Transient reports whether the platform asked the caller to come back
// later. Transient results are retried by the transport.
func (r Result) Transient() bool {
	switch r {
	case ResultBusy, ResultServiceUnavailable:
		return true
	default:
		return false
	}
}

// Unauthorized reports whether the platform rejected the call's token. These
// are never retried by the transport; refresh policy lives with the session.
func (r Result) Unauthorized() bool {
	switch r {
	case ResultAccessDenied, ResultExpired:
		return true
	default:
		return false
	}
}
