package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/jwt"
)

var tracer = otel.Tracer("auth")

type AuthService struct {
	config domain.Config
}

func NewAuthService(config domain.Config) *AuthService {
	return &AuthService{
		config: config,
	}
}

type AuthResult struct {
	SignKey string
	Address string
}

// AuthJwt verifies a token issued for this node and returns the key that signed it.
func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, error) {
	_, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	header, claims, err := jwt.Validate(token)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, err
	}

	if claims.Audience != s.config.FQDN {
		err := fmt.Errorf("jwt audience mismatch: expected %s, got %s", s.config.FQDN, claims.Audience)
		span.RecordError(err)
		return nil, err
	}

	if claims.Subject != "eventchain" {
		err := fmt.Errorf("invalid subject")
		span.RecordError(err)
		return nil, err
	}

	signkey := header.KeyID
	if signkey == "" {
		signkey = claims.Issuer
	}

	address, err := eventchain.PubKeyToAddr(eventchain.Base58Decode(signkey), eventchain.AddressPrefix)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &AuthResult{SignKey: signkey, Address: address}, nil
}
