package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Daskott/kontacts/server/auth"
	"github.com/Daskott/kontacts/server/auth/key"
	"github.com/Daskott/kontacts/server/models"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	CONTACT_NOT_FOUND      = "contact not found"
	INVALID_CREDENTIALS    = "could not validate credentials"
	MAX_AVATAR_UPLOAD_SIZE = 5 << 20
	confirmationTimeout    = 30 * time.Second
)

type ResponsePayload struct {
	Errors  []string    `json:"errors"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type logInInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type requestEmailInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ---------------------------------------------------------------------------------//
// Contacts
// --------------------------------------------------------------------------------//

func (s *Server) listContacts(rw http.ResponseWriter, r *http.Request) {
	skip, limit, err := paginationParams(r)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "skip & limit must be integers")
		return
	}

	contacts, err := s.contacts.Contacts(r.Context(), skip, limit, currentUserFromContext(r.Context()))
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(rw, nonNil(contacts), http.StatusOK)
}

func (s *Server) createContact(rw http.ResponseWriter, r *http.Request) {
	input := models.ContactInput{}
	if !s.decodeAndValidate(rw, r, &input) {
		return
	}

	contact, err := s.contacts.CreateContact(r.Context(), input, currentUserFromContext(r.Context()))
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(rw, contact, http.StatusOK)
}

func (s *Server) findContact(rw http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "invalid contact id")
		return
	}

	contact, err := s.contacts.Contact(r.Context(), id, currentUserFromContext(r.Context()))
	writeContactResult(rw, contact, err)
}

func (s *Server) updateContact(rw http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "invalid contact id")
		return
	}

	input := models.ContactInput{}
	if !s.decodeAndValidate(rw, r, &input) {
		return
	}

	contact, err := s.contacts.UpdateContact(r.Context(), id, input, currentUserFromContext(r.Context()))
	writeContactResult(rw, contact, err)
}

func (s *Server) removeContact(rw http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "invalid contact id")
		return
	}

	contact, err := s.contacts.RemoveContact(r.Context(), id, currentUserFromContext(r.Context()))
	writeContactResult(rw, contact, err)
}

func (s *Server) searchContacts(rw http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("query") {
		writeErrors(rw, http.StatusBadRequest, "query is required")
		return
	}

	skip, limit, err := paginationParams(r)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "skip & limit must be integers")
		return
	}

	contacts, err := s.contacts.SearchContacts(
		r.Context(),
		r.URL.Query().Get("query"),
		skip,
		limit,
		currentUserFromContext(r.Context()),
	)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(rw, nonNil(contacts), http.StatusOK)
}

func (s *Server) upcomingBirthdays(rw http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.UpcomingBirthdays(r.Context(), currentUserFromContext(r.Context()))
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(rw, nonNil(contacts), http.StatusOK)
}

func writeContactResult(rw http.ResponseWriter, contact *models.Contact, err error) {
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if contact == nil {
		writeErrors(rw, http.StatusNotFound, CONTACT_NOT_FOUND)
		return
	}

	writeData(rw, contact, http.StatusOK)
}

func nonNil(contacts []models.Contact) []models.Contact {
	if contacts == nil {
		return []models.Contact{}
	}
	return contacts
}

// ---------------------------------------------------------------------------------//
// Users
// --------------------------------------------------------------------------------//

func (s *Server) currentUser(rw http.ResponseWriter, r *http.Request) {
	writeData(rw, currentUserFromContext(r.Context()), http.StatusOK)
}

func (s *Server) updateAvatar(rw http.ResponseWriter, r *http.Request) {
	user := currentUserFromContext(r.Context())

	if err := r.ParseMultipartForm(MAX_AVATAR_UPLOAD_SIZE); err != nil {
		writeErrors(rw, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	url, err := s.imageHost.UploadAvatar(r.Context(), user.Username, file)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	user, err = s.users.SetAvatar(r.Context(), user.Email, url)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.userCache.Set(r.Context(), user); err != nil {
		logg.Warnf("user cache write for %v failed: %v", user.Email, err)
	}

	writeData(rw, user, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Auth
// --------------------------------------------------------------------------------//

func (s *Server) signUp(rw http.ResponseWriter, r *http.Request) {
	input := models.UserInput{}
	if !s.decodeAndValidate(rw, r, &input) {
		return
	}

	existing, err := s.users.FindUserByEmail(r.Context(), input.Email)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		writeErrors(rw, http.StatusConflict, "account already exists")
		return
	}

	user, err := s.users.CreateUser(r.Context(), input)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	go s.sendConfirmation(user)

	writeData(rw, map[string]interface{}{
		"user":   user,
		"detail": "check your email for confirmation",
	}, http.StatusCreated)
}

func (s *Server) logIn(rw http.ResponseWriter, r *http.Request) {
	input := logInInput{}
	if !s.decodeAndValidate(rw, r, &input) {
		return
	}

	user, err := s.users.FindUserByEmail(r.Context(), input.Email)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if user == nil || !auth.CheckPasswordHash(input.Password, user.Password) {
		writeErrors(rw, http.StatusUnauthorized, "email/password is invalid")
		return
	}

	if !user.Confirmed {
		writeErrors(rw, http.StatusUnauthorized, "email not confirmed")
		return
	}

	s.writeNewTokenPair(rw, r.Context(), user)
}

// refreshToken exchanges a refresh token for a new pair. A token that
// isn't the one on record revokes the stored token.
func (s *Server) refreshToken(rw http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeErrors(rw, http.StatusUnauthorized, "no token provided")
		return
	}

	email, err := auth.DecodeScopedJWT(token, auth.REFRESH_TOKEN_SCOPE, s.keyPair)
	if err != nil {
		writeErrors(rw, http.StatusUnauthorized, INVALID_CREDENTIALS)
		return
	}

	user, err := s.users.FindUserByEmail(r.Context(), email)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		writeErrors(rw, http.StatusUnauthorized, INVALID_CREDENTIALS)
		return
	}

	if user.RefreshToken == nil || *user.RefreshToken != token {
		if err := s.users.SetRefreshToken(r.Context(), user, nil); err != nil {
			logg.Error(err)
		}
		writeErrors(rw, http.StatusUnauthorized, INVALID_CREDENTIALS)
		return
	}

	s.writeNewTokenPair(rw, r.Context(), user)
}

func (s *Server) writeNewTokenPair(rw http.ResponseWriter, ctx context.Context, user *models.User) {
	tokenPair, err := auth.NewTokenPair(user.Email, s.keyPair)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.users.SetRefreshToken(ctx, user, &tokenPair.RefreshToken); err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(rw, tokenPair, http.StatusOK)
}

func (s *Server) confirmedEmail(rw http.ResponseWriter, r *http.Request) {
	email, err := auth.DecodeScopedJWT(mux.Vars(r)["token"], auth.EMAIL_TOKEN_SCOPE, s.keyPair)
	if err != nil {
		writeErrors(rw, http.StatusBadRequest, "verification error")
		return
	}

	user, err := s.users.FindUserByEmail(r.Context(), email)
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		writeErrors(rw, http.StatusBadRequest, "verification error")
		return
	}

	if user.Confirmed {
		writeMessage(rw, "email already confirmed")
		return
	}

	err = s.users.ConfirmEmail(r.Context(), email)
	if errors.Is(err, models.ErrUserNotFound) {
		writeErrors(rw, http.StatusBadRequest, "verification error")
		return
	}
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeMessage(rw, "email confirmed")
}

func (s *Server) requestEmail(rw http.ResponseWriter, r *http.Request) {
	input := requestEmailInput{}
	if !s.decodeAndValidate(rw, r, &input) {
		return
	}

	user, err := s.users.FindUserByEmail(r.Context(), input.Email)
	if err != nil {
		logg.Error(err)
	}

	if user != nil && !user.Confirmed {
		go s.sendConfirmation(user)
	}

	writeMessage(rw, "check your email for confirmation")
}

func (s *Server) jwks(rw http.ResponseWriter, r *http.Request) {
	jwk, err := s.keyPair.JWK()
	if err != nil {
		writeErrors(rw, http.StatusInternalServerError, err.Error())
		return
	}

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(key.ExportJWKAsJWKS(jwk))
}

// sendConfirmation mails an email-scoped token to the user. It runs after
// the response is written so it can't use the request's context.
func (s *Server) sendConfirmation(user *models.User) {
	token, err := auth.NewToken(user.Email, auth.EMAIL_TOKEN_SCOPE, s.keyPair)
	if err != nil {
		logg.Errorf("unable to create confirmation token for %v: %v", user.Email, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), confirmationTimeout)
	defer cancel()

	err = s.mailer.SendConfirmation(ctx, user.Email, user.Username, s.config.Kontacts.BaseURL, token)
	if err != nil {
		logg.Errorf("unable to send confirmation email to %v: %v", user.Email, err)
	}
}
