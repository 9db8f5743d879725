// Package auth signs and verifies the tokens of the control plane: the
// single-use finalize and cancel tokens of an upload session, and the
// access tokens that carry a caller's tier.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
)

// Purpose binds a session token to one operation, so a cancel token can
// never commit a bundle and the other way round.
type Purpose string

const (
	PurposeFinalize Purpose = "finalize"
	PurposeCancel   Purpose = "cancel"
)

// SessionClaims identify a provisional bundle (Subject) and the token
// instance (ID, stored on the bundle row to enforce single use).
type SessionClaims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

// AccessClaims carry the caller identity and tier.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID string
	Tier   string `json:"tier"`
}

var validMethods = jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})

func GenerateSessionToken(slug string, purpose Purpose, jti string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   slug,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Purpose: purpose,
	})
	return token.SignedString(secretKey)
}

// ParseSessionToken verifies tokenString for purpose and slug and returns
// its jti.
func ParseSessionToken(tokenString string, purpose Purpose, slug string, secretKey []byte) (string, error) {
	claims := &SessionClaims{}
	if err := parse(tokenString, claims, secretKey); err != nil {
		return "", err
	}
	if claims.Purpose != purpose || claims.Subject != slug || claims.ID == "" {
		return "", common.ErrInvalidToken
	}
	return claims.ID, nil
}

func GenerateAccessToken(userID string, tier bundle.Tier, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
		Tier:   string(tier),
	})
	return token.SignedString(secretKey)
}

// TierFromToken returns the tier and user of a verified access token.
func TierFromToken(tokenString string, secretKey []byte) (bundle.Tier, string, error) {
	claims := &AccessClaims{}
	if err := parse(tokenString, claims, secretKey); err != nil {
		return bundle.TierAnonymous, "", err
	}
	return bundle.ParseTier(claims.Tier), claims.UserID, nil
}

func parse(tokenString string, claims jwt.Claims, secretKey []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, validMethods)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}
	return nil
}
