package codec_test

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-qbo-auth/oauth2"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/jrsteele09/go-qbo-auth/token/codec"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	otherSecret = "fedcba9876543210fedcba9876543210"
)

// fastCodec keeps the tests quick; the default work factor is covered once.
func fastCodec() *codec.Codec {
	return codec.New(codec.WithIterations(1000))
}

func testToken() *token.Token {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &token.Token{
		TokenType:             oauth2.BearerTokenType,
		AccessToken:           "eyJlbmMiOiJBMTI4Q0JDLUhTMjU2In0.access",
		AccessTokenExpiresAt:  base.Add(55 * time.Minute),
		RefreshToken:          "AB11785196329jVr7yMAMUbmmYlfdQEThpvLOIIN4o",
		RefreshTokenExpiresAt: base.Add(101 * 24 * time.Hour),
		RealmID:               "9130347596842384658",
		IDToken: &token.IDToken{
			Issuer:    "https://oauth.platform.intuit.com/op/v1",
			Subject:   "1182d6ec-2a1f-4aa3-af3e-1c3a2e3f1e3a",
			Audience:  []string{"client-id"},
			IssuedAt:  base,
			ExpiresAt: base.Add(time.Hour),
			RealmID:   "9130347596842384658",
			Claims:    map[string]any{"realmid": "9130347596842384658", "auth_time": float64(1772366400)},
		},
		UserProfile: &token.UserProfile{
			Subject:       "1182d6ec-2a1f-4aa3-af3e-1c3a2e3f1e3a",
			GivenName:     "Ada",
			FamilyName:    "Lovelace",
			Email:         "ada@example.com",
			EmailVerified: true,
			Address:       &token.Address{Locality: "London", Country: "GB"},
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Run("default work factor", func(t *testing.T) {
		want := testToken()
		s, err := codec.Serialize(want, testSecret)
		require.NoError(t, err)

		got, err := codec.Deserialize(s, testSecret)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("minimal token", func(t *testing.T) {
		c := fastCodec()
		want := &token.Token{
			TokenType:             oauth2.BearerTokenType,
			AccessToken:           "AT1",
			AccessTokenExpiresAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			RefreshToken:          "RT1",
			RefreshTokenExpiresAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			RealmID:               "123",
		}
		s, err := c.Serialize(want, testSecret)
		require.NoError(t, err)

		got, err := c.Deserialize(s, testSecret)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.True(t, got.AccessTokenExpiresAt.Equal(want.AccessTokenExpiresAt))
	})

	t.Run("date-like strings stay strings", func(t *testing.T) {
		c := fastCodec()
		want := testToken()
		want.RealmID = "2026-03-01T12:00:00Z"
		want.UserProfile.GivenName = "2026-03-01"

		s, err := c.Serialize(want, testSecret)
		require.NoError(t, err)
		got, err := c.Deserialize(s, testSecret)
		require.NoError(t, err)
		require.Equal(t, "2026-03-01T12:00:00Z", got.RealmID)
		require.Equal(t, "2026-03-01", got.UserProfile.GivenName)
	})
}

func TestCodec_Format(t *testing.T) {
	c := fastCodec()
	tk := testToken()

	a, err := c.Serialize(tk, testSecret)
	require.NoError(t, err)
	b, err := c.Serialize(tk, testSecret)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "fresh IV and salt per serialization")

	head, body, ok := strings.Cut(a, ":")
	require.True(t, ok)

	header, err := base64.StdEncoding.DecodeString(head)
	require.NoError(t, err)
	require.Equal(t, codec.Header, string(header))

	blob, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	require.Greater(t, len(blob), 16+16+16)
}

func TestCodec_WrongSecret(t *testing.T) {
	c := fastCodec()
	s, err := c.Serialize(testToken(), testSecret)
	require.NoError(t, err)

	for _, secret := range []string{otherSecret, "short", "", testSecret + "x"} {
		_, err := c.Deserialize(s, secret)
		require.ErrorIs(t, err, token.ErrInvalidSerializedToken, secret)
	}
}

func TestCodec_WeakSecret(t *testing.T) {
	// A reader that fails proves no randomness (and so no crypto) was consumed.
	c := codec.New(codec.WithRandom(failingReader{}))

	_, err := c.Serialize(testToken(), "short")
	require.ErrorIs(t, err, token.ErrWeakSecretKey)

	_, err = c.Serialize(testToken(), strings.Repeat("é", 31))
	require.ErrorIs(t, err, token.ErrWeakSecretKey)
}

func TestCodec_NilToken(t *testing.T) {
	_, err := fastCodec().Serialize(nil, testSecret)
	require.ErrorIs(t, err, token.ErrNotAuthorized)
}

func TestCodec_Malformed(t *testing.T) {
	c := fastCodec()
	good, err := c.Serialize(testToken(), testSecret)
	require.NoError(t, err)
	head, body, _ := strings.Cut(good, ":")

	otherHeader := base64.StdEncoding.EncodeToString([]byte("qbo-oauth-token.v0"))
	short := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 40))

	tests := map[string]string{
		"empty":             "",
		"no separator":      head + body,
		"header not base64": "!!!!:" + body,
		"wrong header":      otherHeader + ":" + body,
		"body not base64":   head + ":%%%%",
		"body too short":    head + ":" + short,
		"extra separator":   head + ":" + body + ":" + body,
		"truncated body":    head + ":" + body[:len(body)-4],
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Deserialize(input, testSecret)
			require.ErrorIs(t, err, token.ErrInvalidSerializedToken)
		})
	}
}

func TestCodec_TamperDetection(t *testing.T) {
	c := fastCodec()
	good, err := c.Serialize(testToken(), testSecret)
	require.NoError(t, err)

	sep := strings.IndexByte(good, ':')
	positions := []int{0, sep - 1, sep + 1, len(good) - 1}
	for i := 0; i < len(good); i += 11 {
		positions = append(positions, i)
	}

	for _, pos := range positions {
		if pos == sep {
			continue
		}
		tampered := []byte(good)
		tampered[pos] = swapBase64Char(tampered[pos])

		got, err := c.Deserialize(string(tampered), testSecret)
		require.ErrorIs(t, err, token.ErrInvalidSerializedToken, "position %d", pos)
		require.Nil(t, got)
	}
}

func swapBase64Char(b byte) byte {
	if b == 'A' {
		return 'B'
	}
	return 'A'
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	panic("randomness read before secret check")
}
