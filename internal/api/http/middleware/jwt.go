// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey JWT 中携带用户 ID 的 claim
const IdentityKey = "user_id"

// ErrLoginDisabled 服务端不签发令牌，令牌由 hitl token 或外部系统签发
var ErrLoginDisabled = errors.New("login is not supported, mint tokens out of band")

// NewJWTAuth 创建 JWT 认证中间件。
// 令牌的 user_id 须与路径中的 user_id 一致；请求体中的 user_id 由 handler 通过 Identity 校验。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "hitl-agent",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if userID, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: userID}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			userID, _ := claims[IdentityKey].(string)
			return userID
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			return nil, ErrLoginDisabled
		},
		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			userID, _ := data.(string)
			if userID == "" {
				return false
			}
			if p := c.Param("user_id"); p != "" && p != userID {
				return false
			}
			return true
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]any{
				"error": map[string]string{"code": "UNAUTHORIZED", "message": message},
			})
		},
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// IssueToken 为 userID 签发令牌
func IssueToken(mw *jwt.HertzJWTMiddleware, userID string) (string, time.Time, error) {
	return mw.TokenGenerator(userID)
}

// Identity 返回已认证的用户 ID；未启用认证时 ok 为 false
func Identity(c *app.RequestContext) (string, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}
