package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"portfolioPro/internal/database"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	svc, err := NewAuthService(privPEM, pubPEM, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func TestTokenPairCarriesIdentity(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.GenerateTokenPair(Identity{UserID: 7, Role: RoleStudent, MustChangePassword: true, TermsPending: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.UserID != 7 || claims.Role != RoleStudent || !claims.MustChangePassword || !claims.TermsPending || claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}
	refresh, err := svc.ValidateToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if refresh.TokenType != TokenTypeRefresh || refresh.ID == "" || refresh.Role != "" {
		t.Fatalf("unexpected refresh claims %+v", refresh)
	}
	if _, err := svc.ValidateToken(pair.AccessToken + "x"); err == nil {
		t.Fatalf("tampered token accepted")
	}
}

func TestRoleFor(t *testing.T) {
	agent := &database.Profile{UserType: database.UserTypeAgent}
	cases := []struct {
		user    database.User
		profile *database.Profile
		want    string
	}{
		{database.User{IsSuperuser: true, IsStaff: true}, agent, RoleSuperuser},
		{database.User{IsStaff: true}, nil, RoleStaff},
		{database.User{}, agent, RoleAgent},
		{database.User{}, &database.Profile{UserType: database.UserTypeStudent}, RoleStudent},
		{database.User{}, nil, RoleNormal},
	}
	for _, c := range cases {
		if got := RoleFor(c.user, c.profile); got != c.want {
			t.Fatalf("RoleFor = %s, want %s", got, c.want)
		}
	}
	if HomeFor(RoleStaff) != "/admin/dashboard" || HomeFor(RoleAgent) != "/agent/dashboard" || HomeFor(RoleNormal) != "/profile" {
		t.Fatalf("unexpected home routes")
	}
}

func TestGenerateTempPassword(t *testing.T) {
	pw, err := GenerateTempPassword(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pw) != TempPasswordLength {
		t.Fatalf("len = %d", len(pw))
	}
	for _, r := range pw {
		if !strings.ContainsRune(tempPasswordAlphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
	hash, err := HashPassword(pw)
	if err != nil || !CheckPasswordHash(pw, hash) || CheckPasswordHash(pw+"x", hash) {
		t.Fatalf("hash round trip failed: %v", err)
	}
}
