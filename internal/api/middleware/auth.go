package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"deploy-server/internal/dto"
	"deploy-server/internal/pkg/jwt"
	"deploy-server/pkg/constants"
	pkgErrors "deploy-server/pkg/errors"
	"deploy-server/pkg/utils"
)

// AuthMiddleware JWT认证中间件, 保护运维接口
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 获取Authorization header
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			utils.ErrorWithCode(c, pkgErrors.CodeUnauthorized, "缺少Authorization Header")
			c.Abort()
			return
		}

		// 检查Bearer前缀
		if !strings.HasPrefix(authHeader, constants.HeaderBearerPrefix) {
			utils.ErrorWithCode(c, pkgErrors.CodeUnauthorized, "Authorization格式错误")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, constants.HeaderBearerPrefix)

		claims, err := jwt.ValidateToken(secret, token)
		if err != nil {
			utils.Error(c, err)
			c.Abort()
			return
		}

		// 将用户信息存入context
		c.Set("user", &dto.UserInfo{
			Username:    claims.Username,
			DisplayName: claims.DisplayName,
		})
		c.Set("username", claims.Username)

		c.Next()
	}
}

// CurrentUser 认证中间件写入的运维人员
func CurrentUser(c *gin.Context) string {
	return c.GetString("username")
}
