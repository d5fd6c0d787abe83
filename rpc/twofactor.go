package rpc

// ServiceTwoFactor is the authenticator enrollment and time service.
const ServiceTwoFactor = "TwoFactor"

type QueryTimeRequest struct{}

func (*QueryTimeRequest) MarshalWire() ([]byte, error) {
	return nil, nil
}

type QueryTimeResponse struct {
	ServerTime            uint64
	SkewToleranceSeconds  uint32
	ProbeFrequencySeconds uint32
}

func (r *QueryTimeResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.ServerTime = f.uint64()
		case 2:
			r.SkewToleranceSeconds = f.uint32()
		case 4:
			r.ProbeFrequencySeconds = f.uint32()
		}
		return nil
	})
}

type AddAuthenticatorRequest struct {
	SteamID           uint64
	AuthenticatorTime uint64
	AuthenticatorType uint32
	DeviceIdentifier  string
	SMSPhoneID        string
	Version           uint32
}

func (r *AddAuthenticatorRequest) MarshalWire() ([]byte, error) {
	b := appendVarint(nil, 1, r.SteamID)
	b = appendVarint(b, 2, r.AuthenticatorTime)
	b = appendVarint(b, 4, uint64(r.AuthenticatorType))
	b = appendString(b, 5, r.DeviceIdentifier)
	b = appendString(b, 6, r.SMSPhoneID)
	b = appendVarint(b, 8, uint64(r.Version))
	return b, nil
}

type AddAuthenticatorResponse struct {
	SharedSecret    []byte
	SerialNumber    uint64
	RevocationCode  string
	URI             string
	ServerTime      uint64
	AccountName     string
	TokenGID        string
	IdentitySecret  []byte
	Secret1         []byte
	Status          int32
	PhoneNumberHint string
}

func (r *AddAuthenticatorResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.SharedSecret = append([]byte(nil), f.bytes...)
		case 2:
			r.SerialNumber = f.uint64()
		case 3:
			r.RevocationCode = f.string()
		case 4:
			r.URI = f.string()
		case 5:
			r.ServerTime = f.uint64()
		case 6:
			r.AccountName = f.string()
		case 7:
			r.TokenGID = f.string()
		case 8:
			r.IdentitySecret = append([]byte(nil), f.bytes...)
		case 9:
			r.Secret1 = append([]byte(nil), f.bytes...)
		case 10:
			r.Status = f.int32()
		case 11:
			r.PhoneNumberHint = f.string()
		}
		return nil
	})
}

type FinalizeAddAuthenticatorRequest struct {
	SteamID           uint64
	AuthenticatorCode string
	AuthenticatorTime uint64
	ActivationCode    string
	ValidateSMSCode   bool
}

func (r *FinalizeAddAuthenticatorRequest) MarshalWire() ([]byte, error) {
	b := appendVarint(nil, 1, r.SteamID)
	b = appendString(b, 2, r.AuthenticatorCode)
	b = appendVarint(b, 3, r.AuthenticatorTime)
	b = appendString(b, 4, r.ActivationCode)
	b = appendBool(b, 6, r.ValidateSMSCode)
	return b, nil
}

type FinalizeAddAuthenticatorResponse struct {
	Success    bool
	WantMore   bool
	ServerTime uint64
	Status     int32
}

func (r *FinalizeAddAuthenticatorResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.Success = f.bool()
		case 2:
			r.WantMore = f.bool()
		case 3:
			r.ServerTime = f.uint64()
		case 4:
			r.Status = f.int32()
		}
		return nil
	})
}

type RemoveAuthenticatorRequest struct {
	RevocationCode   string
	RevocationReason uint32
	SteamguardScheme uint32
}

func (r *RemoveAuthenticatorRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 2, r.RevocationCode)
	b = appendVarint(b, 5, uint64(r.RevocationReason))
	b = appendVarint(b, 6, uint64(r.SteamguardScheme))
	return b, nil
}

type RemoveAuthenticatorResponse struct {
	Success                     bool
	RevocationAttemptsRemaining uint32
}

func (r *RemoveAuthenticatorResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.Success = f.bool()
		case 5:
			r.RevocationAttemptsRemaining = f.uint32()
		}
		return nil
	})
}
