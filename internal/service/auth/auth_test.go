package auth

import (
	"context"
	"errors"
	"group_chat/internal/model"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeIdentities struct {
	users map[string]*model.User
	err   error
}

func (f *fakeIdentities) FindByID(_ context.Context, id string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestAuthorizer(t *testing.T) (*Authorizer, *testClock, *model.User, *fakeIdentities) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	alice := &model.User{ID: primitive.NewObjectID(), Name: "alice"}
	users := &fakeIdentities{users: map[string]*model.User{alice.ID.Hex(): alice}}
	a := NewAuthorizer(Config{
		Secret:   []byte("test-secret"),
		Issuer:   "group_chat",
		TokenTTL: time.Hour,
		Now:      clock.Now,
	}, users)
	return a, clock, alice, users
}

func TestAuthenticate_Valid(t *testing.T) {
	a, clock, alice, _ := newTestAuthorizer(t)

	token, err := a.Issue(alice.ID.Hex())
	require.NoError(t, err)

	clock.now = clock.now.Add(30 * time.Minute)
	user, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, alice, user)
}

func TestAuthenticate_Expired(t *testing.T) {
	a, clock, alice, _ := newTestAuthorizer(t)

	token, err := a.Issue(alice.ID.Hex())
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	_, err = a.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpired)
	assert.True(t, IsRejection(err))
}

func TestAuthenticate_Rejections(t *testing.T) {
	a, clock, alice, _ := newTestAuthorizer(t)

	valid, err := a.Issue(alice.ID.Hex())
	require.NoError(t, err)
	unknown, err := a.Issue(primitive.NewObjectID().Hex())
	require.NoError(t, err)

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "group_chat",
		Subject:   alice.ID.Hex(),
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}).SignedString([]byte("someone-else"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "group_chat",
		Subject:   alice.ID.Hex(),
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "group_chat",
		Subject: alice.ID.Hex(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"tampered", valid + "x"},
		{"wrong key", otherKey},
		{"alg none", unsigned},
		{"missing exp", noExpiry},
		{"unknown identity", unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	a, _, alice, users := newTestAuthorizer(t)
	token, err := a.Issue(alice.ID.Hex())
	require.NoError(t, err)

	users.err = errors.New("connection refused")
	_, err = a.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.False(t, IsRejection(err), "store outages are not credential rejections")
}

func TestMiddleware(t *testing.T) {
	a, _, alice, _ := newTestAuthorizer(t)
	token, err := a.Issue(alice.ID.Hex())
	require.NoError(t, err)

	var seen *model.User
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, alice, seen)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Equal(t, PublicMessage+"\n", rec.Body.String())
	}
}
