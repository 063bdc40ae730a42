package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/kontacts/server/auth"
	"github.com/Daskott/kontacts/server/auth/key"
	"github.com/Daskott/kontacts/server/models"
	"github.com/Daskott/kontacts/shared"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.PasswordHashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type testResponse struct {
	Errors  []string        `json:"errors"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type mailerStub struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (stub *mailerStub) SendConfirmation(ctx context.Context, to, username, baseURL, token string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()

	if stub.tokens == nil {
		stub.tokens = map[string]string{}
	}
	stub.tokens[to] = token
	return nil
}

func (stub *mailerStub) token(email string) string {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.tokens[email]
}

type imageHostStub struct {
	name  string
	image []byte
	err   error
}

func (stub *imageHostStub) UploadAvatar(ctx context.Context, name string, image io.Reader) (string, error) {
	if stub.err != nil {
		return "", stub.err
	}

	stub.name = name
	stub.image, _ = io.ReadAll(image)
	return "https://images.test/" + name, nil
}

type testServer struct {
	handler   http.Handler
	contacts  *models.ContactsRepositoryStub
	users     *models.UserStore
	mailer    *mailerStub
	imageHost *imageHostStub
	keyPair   *key.KeyPair
}

func newTestServer(t *testing.T) *testServer {
	db, err := models.NewTestDb(t.TempDir())
	require.Nil(t, err)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)

	ts := &testServer{
		contacts:  &models.ContactsRepositoryStub{},
		users:     models.NewUserStore(db, nil),
		mailer:    &mailerStub{},
		imageHost: &imageHostStub{},
		keyPair:   key.NewKeyPair(privateKey),
	}

	config := &shared.ServerConfig{Kontacts: shared.KontactsConfig{BaseURL: "http://localhost:8000"}}
	s, err := NewServer(config, Dependencies{
		Contacts:  ts.contacts,
		Users:     ts.users,
		KeyPair:   ts.keyPair,
		Mailer:    ts.mailer,
		ImageHost: ts.imageHost,
	})
	require.Nil(t, err)

	ts.handler = s.Router()
	return ts
}

// confirmedUser creates a confirmed account & returns an access token for it
func (ts *testServer) confirmedUser(t *testing.T, email string) (*models.User, string) {
	ctx := context.Background()

	user, err := ts.users.CreateUser(ctx, models.UserInput{Username: "tonystark", Email: email, Password: "iamironm"})
	require.Nil(t, err)
	require.Nil(t, ts.users.ConfirmEmail(ctx, email))

	token, err := auth.NewToken(email, auth.ACCESS_TOKEN_SCOPE, ts.keyPair)
	require.Nil(t, err)

	return user, token
}

func (ts *testServer) do(t *testing.T, method, target, token string, body interface{}) (*httptest.ResponseRecorder, testResponse) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		out, err := json.Marshal(b)
		require.Nil(t, err)
		reader = bytes.NewReader(out)
	}

	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, testResponse) {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	res := testResponse{}
	if strings.HasPrefix(req.URL.Path, "/api/auth/jwks") {
		return rec, res
	}

	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec, res
}

func jsonKeys(t *testing.T, data json.RawMessage) []string {
	fields := map[string]json.RawMessage{}
	require.Nil(t, json.Unmarshal(data, &fields))

	keys := []string{}
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validContactBody() map[string]interface{} {
	return map[string]interface{}{
		"first_name":    "pepper",
		"last_name":     "potts",
		"email":         "pepper@stark.com",
		"phone_number":  "+12345678900",
		"date_of_birth": "1980-05-01",
	}
}

func TestProtectedRoutes(t *testing.T) {
	ts := newTestServer(t)
	_, accessToken := ts.confirmedUser(t, "tony@avengers.com")

	refreshToken, err := auth.NewToken("tony@avengers.com", auth.REFRESH_TOKEN_SCOPE, ts.keyPair)
	require.Nil(t, err)
	unknownUserToken, err := auth.NewToken("thanos@titan.com", auth.ACCESS_TOKEN_SCOPE, ts.keyPair)
	require.Nil(t, err)

	testCases := []struct {
		description string
		token       string
		expectedErr string
	}{
		{"Should reject a request without a token", "", "no token provided"},
		{"Should reject a token with the wrong scope", refreshToken, INVALID_CREDENTIALS},
		{"Should reject a token for a user that doesn't exist", unknownUserToken, INVALID_CREDENTIALS},
		{"Should reject a malformed token", "not.a.jwt", INVALID_CREDENTIALS},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			rec, res := ts.do(t, "GET", "/api/contacts/", tc.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, []string{tc.expectedErr}, res.Errors)
			assert.Nil(t, ts.contacts.LastUser, "Should not reach the repository")
		})
	}

	t.Run("Should let a valid access token through", func(t *testing.T) {
		rec, res := ts.do(t, "GET", "/api/contacts", accessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, res.Success)
		assert.JSONEq(t, "[]", string(res.Data))
		require.NotNil(t, ts.contacts.LastUser)
		assert.Equal(t, "tony@avengers.com", ts.contacts.LastUser.Email)
	})
}

func TestContactRoutes(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.confirmedUser(t, "tony@avengers.com")

	existing := &models.Contact{FirstName: "happy", LastName: "hogan", Email: "happy@stark.com", UserID: user.ID}
	existing.ID = 7

	t.Run("Should list contacts with default pagination", func(t *testing.T) {
		ts.contacts.ContactList = []models.Contact{*existing}
		defer func() { ts.contacts.ContactList = nil }()

		rec, res := ts.do(t, "GET", "/api/contacts/", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		contacts := []models.Contact{}
		require.Nil(t, json.Unmarshal(res.Data, &contacts))
		assert.Len(t, contacts, 1)
		assert.Equal(t, models.DEFAULT_SKIP, ts.contacts.LastSkip)
		assert.Equal(t, models.DEFAULT_LIMIT, ts.contacts.LastLimit)
	})

	t.Run("Should pass skip & limit through unchecked", func(t *testing.T) {
		rec, _ := ts.do(t, "GET", "/api/contacts/?skip=-1&limit=0", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, -1, ts.contacts.LastSkip)
		assert.Equal(t, 0, ts.contacts.LastLimit)
	})

	t.Run("Should reject non-integer pagination", func(t *testing.T) {
		rec, _ := ts.do(t, "GET", "/api/contacts/?skip=abc", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should create a contact", func(t *testing.T) {
		rec, res := ts.do(t, "POST", "/api/contacts/", token, validContactBody())
		require.Equal(t, http.StatusOK, rec.Code)

		contact := models.Contact{}
		require.Nil(t, json.Unmarshal(res.Data, &contact))
		assert.Equal(t, "pepper", contact.FirstName)
		assert.Equal(t, "1980-05-01", contact.DateOfBirth.String())
		assert.Equal(t,
			[]string{"date_of_birth", "email", "first_name", "id", "last_name", "phone_number"},
			jsonKeys(t, res.Data))
		assert.Equal(t, user.ID, ts.contacts.LastUser.ID)
	})

	t.Run("Should reject invalid contacts before the repository", func(t *testing.T) {
		invalidBodies := []interface{}{
			`{"first_name": `,
			map[string]interface{}{"first_name": "pepper"},
			func() map[string]interface{} {
				body := validContactBody()
				body["first_name"] = strings.Repeat("a", 51)
				return body
			}(),
			func() map[string]interface{} {
				body := validContactBody()
				body["phone_number"] = "+1234567890123456"
				return body
			}(),
			func() map[string]interface{} {
				body := validContactBody()
				body["date_of_birth"] = "01/05/1980"
				return body
			}(),
		}

		for _, body := range invalidBodies {
			ts.contacts.LastUser = nil
			rec, res := ts.do(t, "POST", "/api/contacts/", token, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %v", body)
			assert.NotEmpty(t, res.Errors)
			assert.Nil(t, ts.contacts.LastUser)
		}
	})

	t.Run("Should 404 when the contact isn't found", func(t *testing.T) {
		ts.contacts.Found = nil

		for _, method := range []string{"GET", "DELETE"} {
			rec, res := ts.do(t, method, "/api/contacts/42", token, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, []string{CONTACT_NOT_FOUND}, res.Errors)
			assert.Equal(t, uint(42), ts.contacts.LastID)
		}

		rec, res := ts.do(t, "PUT", "/api/contacts/42", token, validContactBody())
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, []string{CONTACT_NOT_FOUND}, res.Errors)
	})

	t.Run("Should return found contacts", func(t *testing.T) {
		ts.contacts.Found = existing
		defer func() { ts.contacts.Found = nil }()

		rec, _ := ts.do(t, "GET", "/api/contacts/7", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, res := ts.do(t, "PUT", "/api/contacts/7", token, validContactBody())
		require.Equal(t, http.StatusOK, rec.Code)
		contact := models.Contact{}
		require.Nil(t, json.Unmarshal(res.Data, &contact))
		assert.Equal(t, uint(7), contact.ID)
		assert.Equal(t, "pepper", contact.FirstName)

		rec, _ = ts.do(t, "DELETE", "/api/contacts/7", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should reject a malformed id", func(t *testing.T) {
		for _, method := range []string{"GET", "DELETE"} {
			rec, _ := ts.do(t, method, "/api/contacts/abc", token, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("Should search contacts", func(t *testing.T) {
		rec, _ := ts.do(t, "GET", "/api/contacts/search/?query=Test&skip=5&limit=10", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Test", ts.contacts.LastQuery)
		assert.Equal(t, 5, ts.contacts.LastSkip)
		assert.Equal(t, 10, ts.contacts.LastLimit)

		rec, _ = ts.do(t, "GET", "/api/contacts/search?query=", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "", ts.contacts.LastQuery)

		rec, _ = ts.do(t, "GET", "/api/contacts/search/", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should list upcoming birthdays", func(t *testing.T) {
		rec, res := ts.do(t, "GET", "/api/contacts/upcoming-birthdays/", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", string(res.Data))
	})

	t.Run("Should surface repository failures as 500", func(t *testing.T) {
		ts.contacts.Err = errors.New("db is down")
		defer func() { ts.contacts.Err = nil }()

		rec, _ := ts.do(t, "GET", "/api/contacts/upcoming-birthdays", token, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListContactsRateLimit(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.confirmedUser(t, "tony@avengers.com")

	// with & without the trailing slash count against the same window
	paths := []string{"/api/contacts/", "/api/contacts"}
	for i := 0; i < LIST_RATE_LIMIT; i++ {
		rec, _ := ts.do(t, "GET", paths[i%2], token, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	for _, path := range paths {
		rec, _ := ts.do(t, "GET", path, token, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	}

	// other routes aren't limited
	rec, _ := ts.do(t, "GET", "/api/contacts/upcoming-birthdays/", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKey(t *testing.T) {
	withSlash := httptest.NewRequest("GET", "/api/contacts/", nil)
	withoutSlash := httptest.NewRequest("GET", "/api/contacts", nil)

	assert.Equal(t, "192.0.2.1:/api/contacts", rateLimitKey(withSlash))
	assert.Equal(t, rateLimitKey(withSlash), rateLimitKey(withoutSlash))
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer(t)
	signUp := map[string]string{"username": "peterparker", "email": "peter@avengers.com", "password": "spidey1"}
	logIn := map[string]string{"email": "peter@avengers.com", "password": "spidey1"}

	t.Run("Should sign up & send a confirmation email", func(t *testing.T) {
		rec, res := ts.do(t, "POST", "/api/auth/signup", "", signUp)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, string(res.Data), "peter@avengers.com")
		assert.NotContains(t, string(res.Data), "password")

		assert.Eventually(t, func() bool {
			return ts.mailer.token("peter@avengers.com") != ""
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should reject a duplicate sign up", func(t *testing.T) {
		rec, _ := ts.do(t, "POST", "/api/auth/signup/", "", signUp)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Should reject an invalid sign up", func(t *testing.T) {
		rec, _ := ts.do(t, "POST", "/api/auth/signup", "", map[string]string{
			"username": "mj", "email": "mj@queens.com", "password": "has space",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should not log in before email is confirmed", func(t *testing.T) {
		rec, res := ts.do(t, "POST", "/api/auth/login", "", logIn)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, []string{"email not confirmed"}, res.Errors)
	})

	t.Run("Should confirm email", func(t *testing.T) {
		rec, _ := ts.do(t, "GET", "/api/auth/confirmed_email/not-a-token", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		emailToken := ts.mailer.token("peter@avengers.com")

		rec, res := ts.do(t, "GET", "/api/auth/confirmed_email/"+emailToken, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message": "email confirmed"}`, string(res.Data))

		rec, res = ts.do(t, "GET", "/api/auth/confirmed_email/"+emailToken, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message": "email already confirmed"}`, string(res.Data))
	})

	t.Run("Should reject bad credentials", func(t *testing.T) {
		for _, body := range []map[string]string{
			{"email": "peter@avengers.com", "password": "wrong1"},
			{"email": "nobody@avengers.com", "password": "spidey1"},
		} {
			rec, res := ts.do(t, "POST", "/api/auth/login", "", body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, []string{"email/password is invalid"}, res.Errors)
		}
	})

	var tokenPair auth.TokenPair

	t.Run("Should log in & store the refresh token", func(t *testing.T) {
		rec, res := ts.do(t, "POST", "/api/auth/login", "", logIn)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, json.Unmarshal(res.Data, &tokenPair))
		assert.Equal(t, "bearer", tokenPair.TokenType)

		user, err := ts.users.FindUserByEmail(context.Background(), "peter@avengers.com")
		require.Nil(t, err)
		require.NotNil(t, user.RefreshToken)
		assert.Equal(t, tokenPair.RefreshToken, *user.RefreshToken)

		rec, res = ts.do(t, "GET", "/api/users/me", tokenPair.AccessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, string(res.Data), "peterparker")
		assert.Equal(t, []string{"avatar", "created_at", "email", "id", "username"}, jsonKeys(t, res.Data))
	})

	t.Run("Should refresh with the stored refresh token", func(t *testing.T) {
		rec, res := ts.do(t, "GET", "/api/auth/refresh_token", tokenPair.RefreshToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, json.Unmarshal(res.Data, &tokenPair))

		rec, _ = ts.do(t, "GET", "/api/auth/refresh_token", tokenPair.AccessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Should revoke the stored token when another refresh token is used", func(t *testing.T) {
		staleToken, err := auth.EncodeJWT(auth.KontactsTokenClaims{
			Scope: auth.REFRESH_TOKEN_SCOPE,
			StandardClaims: jwt.StandardClaims{
				Subject:   "peter@avengers.com",
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			},
		}, ts.keyPair)
		require.Nil(t, err)

		rec, _ := ts.do(t, "GET", "/api/auth/refresh_token", staleToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		user, err := ts.users.FindUserByEmail(context.Background(), "peter@avengers.com")
		require.Nil(t, err)
		assert.Nil(t, user.RefreshToken)

		rec, _ = ts.do(t, "GET", "/api/auth/refresh_token", tokenPair.RefreshToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Should always acknowledge an email request", func(t *testing.T) {
		for _, email := range []string{"peter@avengers.com", "nobody@avengers.com"} {
			rec, res := ts.do(t, "POST", "/api/auth/request_email", "", map[string]string{"email": email})
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"message": "check your email for confirmation"}`, string(res.Data))
		}
	})

	t.Run("Should serve the JWKS", func(t *testing.T) {
		rec, _ := ts.do(t, "GET", "/api/auth/jwks", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		jwks := map[string][]map[string]interface{}{}
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
		require.Len(t, jwks["keys"], 1)
		assert.Equal(t, key.KEY_ID, jwks["keys"][0]["kid"])
	})
}

func TestUpdateAvatar(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.confirmedUser(t, "tony@avengers.com")

	avatarRequest := func(field string) *http.Request {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile(field, "me.png")
		require.Nil(t, err)
		_, err = part.Write([]byte("fake-png"))
		require.Nil(t, err)
		require.Nil(t, writer.Close())

		req := httptest.NewRequest("PATCH", "/api/users/avatar", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	t.Run("Should upload the avatar & store its url", func(t *testing.T) {
		rec, res := ts.serve(t, avatarRequest("file"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, string(res.Data), "https://images.test/tonystark")
		assert.Equal(t, "tonystark", ts.imageHost.name)
		assert.Equal(t, []byte("fake-png"), ts.imageHost.image)

		user, err := ts.users.FindUserByEmail(context.Background(), "tony@avengers.com")
		require.Nil(t, err)
		assert.Equal(t, "https://images.test/tonystark", *user.Avatar)
	})

	t.Run("Should require the file field", func(t *testing.T) {
		rec, _ := ts.serve(t, avatarRequest("image"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should fail when the upload fails", func(t *testing.T) {
		ts.imageHost.err = errors.New("bucket is gone")
		defer func() { ts.imageHost.err = nil }()

		rec, _ := ts.serve(t, avatarRequest("file"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
