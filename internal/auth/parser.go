package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"fieldops-service/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are issued by the identity service. TechnicianID is present only
// for technician accounts.
type Claims struct {
	UserID       string     `json:"user_id"`
	Role         model.Role `json:"role"`
	TechnicianID *uint      `json:"technician_id,omitempty"`
	jwt.RegisteredClaims
}

type Parser struct {
	secret []byte
	parser *jwt.Parser
}

func NewParser(secret string) *Parser {
	return &Parser{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (p *Parser) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	switch claims.Role {
	case model.RoleAdmin, model.RoleDispatcher, model.RoleViewer:
	case model.RoleTechnician:
		if claims.TechnicianID == nil {
			return nil, fmt.Errorf("%w: technician token without technician_id", ErrInvalidToken)
		}
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

func (c *Claims) Principal() model.Principal {
	return model.Principal{
		UserID:       c.UserID,
		Role:         c.Role,
		TechnicianID: c.TechnicianID,
	}
}

// Sign issues an HS256 token. Used by the CLI to mint service tokens and by tests.
func Sign(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
