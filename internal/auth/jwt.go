package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject = "sub"
	claimUserID  = "user_id"
	claimType    = "typ"
	claimToken   = "tok"

	uploadTokenType = "upload"
	linkTokenType   = "link"
)

// ErrInvalidSignature is returned for link signatures that fail to verify.
var ErrInvalidSignature = errors.New("invalid link signature")

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// UserIDFromContext extracts the Telegram user id from upload token claims.
func UserIDFromContext(c echo.Context) (int64, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	if typ := claimString(claims, claimType); typ != "" && typ != uploadTokenType {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "wrong token type")
	}
	raw := claimString(claims, claimUserID)
	if raw == "" {
		raw = claimString(claims, claimSubject)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "user id missing")
	}
	return id, nil
}

// GenerateToken creates a signed upload JWT for the user.
func GenerateToken(userID int64, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if userID == 0 {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	id := strconv.FormatInt(userID, 10)
	claims := jwt.MapClaims{
		claimType:    uploadTokenType,
		claimSubject: id,
		claimUserID:  id,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	return sign(claims, secret, expiresAt)
}

// SignLink binds a requester to one file token. The result travels as the
// sig query parameter of a download link.
func SignLink(userID int64, fileToken, secret string, expiresIn time.Duration) (string, error) {
	if strings.TrimSpace(fileToken) == "" {
		return "", fmt.Errorf("file token is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", fmt.Errorf("jwt expires in must be positive")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimType:    linkTokenType,
		claimSubject: strconv.FormatInt(userID, 10),
		claimToken:   fileToken,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	signed, _, err := sign(claims, secret, expiresAt)
	return signed, err
}

// ParseLink verifies sig for fileToken and returns the requester it names.
func ParseLink(sig, fileToken, secret string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(sig, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if claimString(claims, claimType) != linkTokenType || claimString(claims, claimToken) != fileToken {
		return 0, ErrInvalidSignature
	}
	id, err := strconv.ParseInt(claimString(claims, claimSubject), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return id, nil
}

func sign(claims jwt.MapClaims, secret string, expiresAt time.Time) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
