// Package signing produces and verifies HMAC-SHA256 signed JWTs.
//
// The package is pure: no I/O, no randomness. Callers supply the token identifier and
// the clock so that two calls with equal inputs yield the same token.
package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Failure kinds reported by Verify. They are internal diagnostics; callers outside
// the token subsystem should collapse them into a single unauthenticated outcome.
var (
	ErrInvalidSignature = errors.New("signing: invalid signature")
	ErrMalformed        = errors.New("signing: malformed token")
	ErrExpired          = errors.New("signing: token expired")
	ErrNotYetValid      = errors.New("signing: token not valid yet")
	ErrIssuerMismatch   = errors.New("signing: issuer mismatch")
	ErrAudienceMismatch = errors.New("signing: audience mismatch")
	ErrWrongTokenType   = errors.New("signing: wrong token type")
)

// ErrInvalidOptions is returned by Sign when the options cannot produce a valid token.
var ErrInvalidOptions = errors.New("signing: invalid options")

var method = jwt.SigningMethodHS256

// Claims is implemented by the concrete claim sets the engine can sign.
type Claims interface {
	jwt.Claims
	// Registered exposes the standard claims so the engine can stamp and inspect them.
	Registered() *jwt.RegisteredClaims
	// Kind returns the value of the type discriminator carried by the claims.
	Kind() string
}

// Options drives both signing and verification.
type Options struct {
	// Type is the expected value of the type discriminator.
	Type     string
	ID       string
	Expiry   time.Duration
	Issuer   string
	Audience string
	// Leeway tolerates clock skew when checking exp. Zero means exact comparison.
	Leeway time.Duration
	Now    func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Algorithm reports the only JWS algorithm accepted by the engine.
func Algorithm() string {
	return method.Alg()
}

// Sign stamps iat, exp, iss, aud and jti onto claims and returns the compact signed token.
// The claims value is modified in place.
func Sign(claims Claims, secret []byte, opts Options) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidOptions)
	}
	if opts.ID == "" {
		return "", fmt.Errorf("%w: token id required", ErrInvalidOptions)
	}
	if opts.Expiry <= 0 {
		return "", fmt.Errorf("%w: expiry must be positive", ErrInvalidOptions)
	}
	if opts.Type != "" && claims.Kind() != opts.Type {
		return "", fmt.Errorf("%w: claims carry type %q, expected %q", ErrInvalidOptions, claims.Kind(), opts.Type)
	}

	issuedAt := opts.now()
	reg := claims.Registered()
	if reg.Subject == "" {
		return "", fmt.Errorf("%w: subject required", ErrInvalidOptions)
	}
	reg.ID = opts.ID
	reg.Issuer = opts.Issuer
	reg.IssuedAt = jwt.NewNumericDate(issuedAt)
	reg.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(opts.Expiry))
	reg.Audience = nil
	if opts.Audience != "" {
		reg.Audience = jwt.ClaimStrings{opts.Audience}
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks raw against secret and opts and decodes it into a fresh T.
// The signature is validated before any claim is inspected. On failure no claims are returned.
func Verify[T any, PT interface {
	*T
	Claims
}](raw string, secret []byte, opts Options) (*T, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSignature
	}
	if raw == "" {
		return nil, ErrMalformed
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(opts.now),
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	claims := PT(new(T))
	token, err := jwt.NewParser(parserOpts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	reg := claims.Registered()
	if reg.Subject == "" || reg.ID == "" || reg.IssuedAt == nil {
		return nil, ErrMalformed
	}
	if opts.Type != "" && claims.Kind() != opts.Type {
		return nil, ErrWrongTokenType
	}

	return (*T)(claims), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	default:
		return ErrMalformed
	}
}
