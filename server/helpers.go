package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/kontacts/server/auth"
	"github.com/Daskott/kontacts/server/models"
	"github.com/Daskott/kontacts/utils"
	"github.com/go-co-op/gocron"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
)

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(payLoad.Errors)
	} else if statusCode >= http.StatusBadRequest {
		logg.Info(payLoad.Errors)
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payLoad)
}

func writeData(rw http.ResponseWriter, data interface{}, statusCode int) {
	writeResponse(rw, ResponsePayload{Success: true, Data: data}, statusCode)
}

func writeErrors(rw http.ResponseWriter, statusCode int, errs ...string) {
	writeResponse(rw, ResponsePayload{Errors: errs}, statusCode)
}

func writeMessage(rw http.ResponseWriter, msg string) {
	writeData(rw, map[string]string{"message": msg}, http.StatusOK)
}

// decodeAndValidate reads the JSON body into dest & validates it, writing a
// 400 response and returning false when either step fails
func (s *Server) decodeAndValidate(rw http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeErrors(rw, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}

	if errs := s.validate.Struct(dest); errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return false
	}

	return true
}

func contactIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 0)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// paginationParams reads 'skip' & 'limit', falling back to the defaults
// when absent. Values aren't range checked.
func paginationParams(r *http.Request) (skip int, limit int, err error) {
	skip, err = intQueryParam(r, "skip", models.DEFAULT_SKIP)
	if err != nil {
		return 0, 0, err
	}

	limit, err = intQueryParam(r, "limit", models.DEFAULT_LIMIT)
	if err != nil {
		return 0, 0, err
	}

	return skip, limit, nil
}

func intQueryParam(r *http.Request, name string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue, nil
	}

	return strconv.Atoi(value)
}

func currentUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(RequestContextKey("currentUser")).(*models.User)
	return user
}

func RegisterValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		err := validate.Var(fl.Field().String(), "contains= ")
		if err == nil {
			return false
		}
		return len(fl.Field().String()) > 0
	})
	if err != nil {
		return err
	}

	// Validate models.Date as the time.Time it wraps, so 'required' rejects the zero date
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if date, ok := field.Interface().(models.Date); ok {
			return date.Time
		}
		return nil
	}, models.Date{})

	return nil
}

// ---------------------------------------------------------------------------------//
// Middleware Helper functions
// --------------------------------------------------------------------------------//

func bearerToken(authHeaderValue string) (string, bool) {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 || authHeaderList[1] == "" {
		return "", false
	}
	return authHeaderList[1], true
}

func (s *Server) decodeAndVerifyAuthHeader(ctx context.Context, authHeaderValue string) DecodedJWT {
	token, ok := bearerToken(authHeaderValue)
	if !ok {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	email, err := auth.DecodeScopedJWT(token, auth.ACCESS_TOKEN_SCOPE, s.keyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "could not validate credentials"}
	}

	user, err := s.userCache.Get(ctx, email)
	if err != nil {
		logg.Warnf("user cache lookup for %v failed: %v", email, err)
	}

	// validate that the user account still exists
	if user == nil {
		user, err = s.users.FindUserByEmail(ctx, email)
		if err != nil {
			logg.Error(err)
			return DecodedJWT{ErrorMsg: "could not validate credentials"}
		}
		if user == nil {
			return DecodedJWT{ErrorMsg: "could not validate credentials"}
		}

		if err := s.userCache.Set(ctx, user); err != nil {
			logg.Warnf("user cache write for %v failed: %v", email, err)
		}
	}

	return DecodedJWT{Email: email, User: user}
}

// rateLimitKey identifies a client the way the list route counts it: by ip &
// route, so every spelling of the route's path shares one window
func rateLimitKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			path = template
		}
	}

	return host + ":" + path
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("Kontacts server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(scheduler *gocron.Scheduler, server *http.Server, finalJobs func()) {
	// Stop all periodic jobs before the final run
	scheduler.Stop()
	finalJobs()

	// Shutdown server gracefully
	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("Kontacts server shutdown failed:%+s", err)
	}

	logg.Infof("Kontacts server stopped properly")
}

// configDirectory retrieves the directory to store kontacts data
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'kontacts' folder in home directory for prod
	configFolderName := "kontacts"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logg.Error(v...)
}
