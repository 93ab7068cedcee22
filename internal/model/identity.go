package model

// Identity is the verified caller identity extracted from a credential.
// CustomID is the stable identifier bound at credential issuance; it is the
// only value used for audit attribution. WalletAddress is an optional
// secondary identifier carried opaquely when the credential includes one.
type Identity struct {
	CustomID      string `json:"custom_id"`
	WalletAddress string `json:"wallet_address,omitempty"`
}
