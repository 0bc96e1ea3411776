package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/totegamma/eventchain"
)

const (
	tokenType = "JWT"
	algorithm = "EdDSA"
)

// Create creates a token signed by signer. The signer key becomes the key id.
func Create(claims Claims, signer Signer) (string, error) {
	header := Header{
		Type:      tokenType,
		Algorithm: algorithm,
		KeyID:     signer.PublicSignKey(),
	}
	headerStr, err := json.Marshal(header)
	if err != nil {
		return "", err
	}

	payloadStr, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerStr)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadStr)
	target := headerB64 + "." + payloadB64

	signatureB64 := base64.RawURLEncoding.EncodeToString(signer.Sign([]byte(target)))

	return target + "." + signatureB64, nil
}

// Validate checks is jwt signature valid and not expired
func Validate(jwt string) (*Header, *Claims, error) {

	split := strings.Split(jwt, ".")
	if len(split) != 3 {
		return nil, nil, fmt.Errorf("invalid jwt format")
	}

	var header Header
	headerBytes, err := base64.RawURLEncoding.DecodeString(split[0])
	if err != nil {
		return nil, nil, err
	}
	err = json.Unmarshal(headerBytes, &header)
	if err != nil {
		return nil, nil, err
	}

	if header.Type != tokenType || header.Algorithm != algorithm {
		return nil, nil, fmt.Errorf("unsupported jwt type")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(split[1])
	if err != nil {
		return nil, nil, err
	}

	var claims Claims
	err = json.Unmarshal(payloadBytes, &claims)
	if err != nil {
		return nil, nil, err
	}

	// check exp
	if claims.ExpirationTime != "" {
		exp, err := strconv.ParseInt(claims.ExpirationTime, 10, 64)
		if err != nil {
			return nil, nil, err
		}
		if exp < time.Now().Unix() {
			return nil, nil, fmt.Errorf("jwt is already expired")
		}
	}

	signatureBytes, err := base64.RawURLEncoding.DecodeString(split[2])
	if err != nil {
		return nil, nil, err
	}

	keyID := header.KeyID
	if keyID == "" {
		keyID = claims.Issuer
	}

	signature := eventchain.Base58Encode(signatureBytes)
	if !eventchain.VerifySignature(keyID, signature, []byte(split[0]+"."+split[1])) {
		return nil, nil, fmt.Errorf("invalid jwt signature")
	}

	return &header, &claims, nil
}
