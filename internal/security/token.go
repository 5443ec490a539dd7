package security

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrMalformedToken = errors.New("malformed verification token")

// NewVerificationToken gera "<certificateID>.<secret>" e retorna junto o hash bcrypt
// do segredo. Só o hash é persistido.
func NewVerificationToken(certificateID string) (token string, hash string, err error) {
	secret := strings.ReplaceAll(uuid.New().String(), "-", "")
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return certificateID + "." + secret, string(hashed), nil
}

// SplitVerificationToken separa o id do certificado e o segredo
func SplitVerificationToken(token string) (certificateID, secret string, err error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", "", ErrMalformedToken
	}
	return token[:idx], token[idx+1:], nil
}

// MatchVerificationSecret compara o segredo apresentado com o hash salvo
func MatchVerificationSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
