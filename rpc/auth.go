package rpc

// Authentication service messages. Field numbers follow the platform's
// observed wire layout; most of the surface is undocumented, so responses
// keep only the fields the engine acts on.

// ServiceAuthentication is the login and token service.
const ServiceAuthentication = "Authentication"

// Guard types reported in BeginAuthSessionResponse.AllowedConfirmations.
const (
	GuardTypeUnknown           uint32 = 0
	GuardTypeNone              uint32 = 1
	GuardTypeEmailCode         uint32 = 2
	GuardTypeDeviceCode        uint32 = 3
	GuardTypeDeviceConfirm     uint32 = 4
	GuardTypeEmailConfirm      uint32 = 5
	GuardTypeMachineToken      uint32 = 6
	GuardTypeLegacyMachineAuth uint32 = 7
)

type GetPasswordRSAPublicKeyRequest struct {
	AccountName string
}

func (r *GetPasswordRSAPublicKeyRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, r.AccountName), nil
}

type GetPasswordRSAPublicKeyResponse struct {
	PublicKeyMod string // hex
	PublicKeyExp string // hex
	Timestamp    uint64
}

func (r *GetPasswordRSAPublicKeyResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.PublicKeyMod = f.string()
		case 2:
			r.PublicKeyExp = f.string()
		case 3:
			r.Timestamp = f.uint64()
		}
		return nil
	})
}

type BeginAuthSessionRequest struct {
	DeviceFriendlyName  string
	AccountName         string
	EncryptedPassword   string
	EncryptionTimestamp uint64
	RememberLogin       bool
	PlatformType        uint32
	Persistence         uint64
	WebsiteID           string
	GuardData           string
	Language            uint32
}

func (r *BeginAuthSessionRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, r.DeviceFriendlyName)
	b = appendString(b, 2, r.AccountName)
	b = appendString(b, 3, r.EncryptedPassword)
	b = appendVarint(b, 4, r.EncryptionTimestamp)
	b = appendBool(b, 5, r.RememberLogin)
	b = appendVarint(b, 6, uint64(r.PlatformType))
	b = appendVarint(b, 7, r.Persistence)
	b = appendString(b, 8, r.WebsiteID)
	b = appendString(b, 10, r.GuardData)
	b = appendVarint(b, 11, uint64(r.Language))
	return b, nil
}

// AllowedConfirmation is one second-factor route the platform will accept
// for a pending auth session.
type AllowedConfirmation struct {
	GuardType         uint32
	AssociatedMessage string
}

func (a *AllowedConfirmation) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			a.GuardType = f.uint32()
		case 2:
			a.AssociatedMessage = f.string()
		}
		return nil
	})
}

type BeginAuthSessionResponse struct {
	ClientID             uint64
	RequestID            []byte
	Interval             float32
	AllowedConfirmations []AllowedConfirmation
	SteamID              uint64
	WeakToken            string
	ExtendedErrorMessage string
}

func (r *BeginAuthSessionResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.ClientID = f.uint64()
		case 2:
			r.RequestID = append([]byte(nil), f.bytes...)
		case 3:
			r.Interval = f.float32()
		case 4:
			var c AllowedConfirmation
			if err := c.UnmarshalWire(f.bytes); err != nil {
				return err
			}
			r.AllowedConfirmations = append(r.AllowedConfirmations, c)
		case 5:
			r.SteamID = f.uint64()
		case 6:
			r.WeakToken = f.string()
		case 8:
			r.ExtendedErrorMessage = f.string()
		}
		return nil
	})
}

type UpdateAuthSessionRequest struct {
	ClientID uint64
	SteamID  uint64
	Code     string
	CodeType uint32
}

func (r *UpdateAuthSessionRequest) MarshalWire() ([]byte, error) {
	b := appendVarint(nil, 1, r.ClientID)
	b = appendVarint(b, 2, r.SteamID)
	b = appendString(b, 3, r.Code)
	b = appendVarint(b, 4, uint64(r.CodeType))
	return b, nil
}

type UpdateAuthSessionResponse struct {
	AgreementSessionURL string
}

func (r *UpdateAuthSessionResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		if f.num == 7 {
			r.AgreementSessionURL = f.string()
		}
		return nil
	})
}

type PollAuthSessionRequest struct {
	ClientID  uint64
	RequestID []byte
}

func (r *PollAuthSessionRequest) MarshalWire() ([]byte, error) {
	b := appendVarint(nil, 1, r.ClientID)
	b = appendBytes(b, 2, r.RequestID)
	return b, nil
}

type PollAuthSessionResponse struct {
	NewClientID          uint64
	NewChallengeURL      string
	RefreshToken         string
	AccessToken          string
	HadRemoteInteraction bool
	AccountName          string
	NewGuardData         string
}

func (r *PollAuthSessionResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.NewClientID = f.uint64()
		case 2:
			r.NewChallengeURL = f.string()
		case 3:
			r.RefreshToken = f.string()
		case 4:
			r.AccessToken = f.string()
		case 5:
			r.HadRemoteInteraction = f.bool()
		case 6:
			r.AccountName = f.string()
		case 7:
			r.NewGuardData = f.string()
		}
		return nil
	})
}

type GenerateAccessTokenRequest struct {
	RefreshToken string
	SteamID      uint64
	RenewalType  uint32
}

func (r *GenerateAccessTokenRequest) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, r.RefreshToken)
	b = appendVarint(b, 2, r.SteamID)
	b = appendVarint(b, 3, uint64(r.RenewalType))
	return b, nil
}

type GenerateAccessTokenResponse struct {
	AccessToken  string
	RefreshToken string
}

func (r *GenerateAccessTokenResponse) UnmarshalWire(data []byte) error {
	return walkWire(data, func(f wireField) error {
		switch f.num {
		case 1:
			r.AccessToken = f.string()
		case 2:
			r.RefreshToken = f.string()
		}
		return nil
	})
}
