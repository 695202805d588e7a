package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// OpsTokenPayload is what an operator token asserts.
type OpsTokenPayload struct {
	Operator string
	Role     enums.OperatorRole
	JTI      string
}

// OpsTokenClaims is the signed form of OpsTokenPayload. The operator name
// travels as the registered subject.
type OpsTokenClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
