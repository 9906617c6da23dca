package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protected(secret string) *gin.Engine {
	r := gin.New()
	r.GET("/p", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken("s3cret", "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	w := get(protected("s3cret"), "Bearer "+token)
	if w.Code != http.StatusOK || w.Body.String() != "ops" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}
}

func TestJWTAuthRejects(t *testing.T) {
	good, _ := IssueToken("s3cret", "ops", time.Hour)
	other, _ := IssueToken("different", "ops", time.Hour)
	expired, _ := IssueToken("s3cret", "ops", -time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Operator: "ops"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + good,
		"empty bearer":   "Bearer ",
		"wrong secret":   "Bearer " + other,
		"expired":        "Bearer " + expired,
		"alg none":       "Bearer " + none,
		"garbage":        "Bearer not.a.token",
	}
	for name, auth := range cases {
		t.Run(name, func(t *testing.T) {
			if w := get(protected("s3cret"), auth); w.Code != http.StatusUnauthorized {
				t.Fatalf("code=%d, want 401", w.Code)
			}
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken("", "ops", time.Hour); err != ErrEmptySecret {
		t.Fatalf("err=%v, want ErrEmptySecret", err)
	}
}
