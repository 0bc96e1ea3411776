package jwt

// Header is the JOSE header of a node token.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims is the payload of a node token. Times are unix seconds encoded as strings.
type Claims struct {
	Issuer         string `json:"iss,omitempty"`
	Subject        string `json:"sub,omitempty"`
	Audience       string `json:"aud,omitempty"`
	ExpirationTime string `json:"exp,omitempty"`
	IssuedAt       string `json:"iat,omitempty"`
	JWTID          string `json:"jti,omitempty"`
}

// Signer signs tokens. eventchain.Account satisfies it.
type Signer interface {
	PublicSignKey() string
	Sign(message []byte) []byte
}
