// ABOUTME: Tests for auth context propagation helpers
// ABOUTME: Covers WithAuth/FromContext round-trips and MustFromContext panics

package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	auth := &AuthContext{UserID: 7, Username: "grace"}
	ctx := WithAuth(context.Background(), auth)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext returned nil")
	}
	if got.UserID != 7 || got.Username != "grace" {
		t.Errorf("FromContext = %+v, want %+v", got, auth)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty context = %+v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext did not panic on missing auth")
		}
	}()
	MustFromContext(context.Background())
}
