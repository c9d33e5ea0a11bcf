package services

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret")

	token, err := svc.GenerateToken("user-42")
	if err != nil {
		t.Fatalf("GenerateToken = %v", err)
	}
	userID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken = %v", err)
	}
	if userID != "user-42" {
		t.Errorf("ValidateToken subject = %q, want user-42", userID)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a").GenerateToken("user-42")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenService("secret-b").ValidateToken(token); err == nil {
		t.Error("token signed with a different secret validated")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret")
	if _, err := svc.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}
