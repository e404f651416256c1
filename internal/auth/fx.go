package auth

import (
	"github.com/smallbiznis/kinship/internal/auth/jwt"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.identity",
	fx.Provide(jwt.NewVerifier),
)
