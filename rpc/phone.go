package rpc

// ServicePhone is the phone-verification service used during authenticator
// enrollment.
const ServicePhone = "Phone"

type ConfirmAddPhoneToAccountRequest struct {
	SteamID uint64
	Stoken  string
}

func (r *ConfirmAddPhoneToAccountRequest) MarshalWire() ([]byte, error) {
	b := appendVarint(nil, 1, r.SteamID)
	b = appendString(b, 2, r.Stoken)
	return b, nil
}

type ConfirmAddPhoneToAccountResponse struct {
	Success bool
}

func (r *ConfirmAddPhoneToAccountResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		if f.num == 1 {
			r.Success = f.bool()
		}
		return nil
	})
}

type IsAccountWaitingForEmailConfirmationRequest struct{}

func (*IsAccountWaitingForEmailConfirmationRequest) MarshalWire() ([]byte, error) {
	return nil, nil
}

type IsAccountWaitingForEmailConfirmationResponse struct {
	AwaitingEmailConfirmation bool
	SecondsToWait             uint32
}

func (r *IsAccountWaitingForEmailConfirmationResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.AwaitingEmailConfirmation = f.bool()
		case 2:
			r.SecondsToWait = f.uint32()
		}
		return nil
	})
}

type SendPhoneVerificationCodeRequest struct {
	Language uint32
}

func (r *SendPhoneVerificationCodeRequest) MarshalWire() ([]byte, error) {
	return appendVarint(nil, 1, uint64(r.Language)), nil
}

type SendPhoneVerificationCodeResponse struct{}

func (*SendPhoneVerificationCodeResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(wireField) error { return nil })
}

type SetAccountPhoneNumberRequest struct {
	PhoneNumber      string
	PhoneCountryCode string
}

func (r *SetAccountPhoneNumberRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, r.PhoneNumber)
	b = appendString(b, 2, r.PhoneCountryCode)
	return b, nil
}

type SetAccountPhoneNumberResponse struct {
	ConfirmationEmailAddress string
	PhoneNumberFormatted     string
}

func (r *SetAccountPhoneNumberResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.ConfirmationEmailAddress = f.string()
		case 2:
			r.PhoneNumberFormatted = f.string()
		}
		return nil
	})
}

type VerifyAccountPhoneWithCodeRequest struct {
	Code string
}

func (r *VerifyAccountPhoneWithCodeRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, r.Code), nil
}

type VerifyAccountPhoneWithCodeResponse struct{}

func (*VerifyAccountPhoneWithCodeResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(wireField) error { return nil })
}

type AccountPhoneStatusRequest struct{}

func (*AccountPhoneStatusRequest) MarshalWire() ([]byte, error) {
	return nil, nil
}

// AccountPhoneStatusResponse reports whether a verified phone is on the
// account. The second field has unknown meaning; it is preserved opaquely so
// a round-trip never discards it.
type AccountPhoneStatusResponse struct {
	VerifiedPhone bool
	Reserved2     uint64
}

func (r *AccountPhoneStatusResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.VerifiedPhone = f.bool()
		case 2:
			r.Reserved2 = f.uint64()
		}
		return nil
	})
}

func (r *AccountPhoneStatusResponse) MarshalWire() ([]byte, error) {
	b := appendBool(nil, 1, r.VerifiedPhone)
	b = appendVarint(b, 2, r.Reserved2)
	return b, nil
}
