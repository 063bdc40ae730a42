package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Daskott/kontacts/server/models"
	"github.com/fatih/color"
)

var (
	redColor    = color.New(color.FgRed).SprintFunc()
	yellowColor = color.New(color.FgYellow).SprintFunc()
	greenColor  = color.New(color.FgGreen).SprintFunc()
)

type DecodedJWT struct {
	Email    string
	User     *models.User
	ErrorMsg string
}

type ResponseWriterWithStatus struct {
	http.ResponseWriter
	Status int
}

func (r *ResponseWriterWithStatus) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		responseWriter := &ResponseWriterWithStatus{
			ResponseWriter: w,
			Status:         200,
		}

		defer func() {
			responseStatus := greenColor(responseWriter.Status)
			if responseWriter.Status >= 400 {
				responseStatus = redColor(responseWriter.Status)
			}

			logg.Info(
				r.Method, " ",
				r.RequestURI, " ",
				responseStatus, " ",
				yellowColor(fmt.Sprintf("[%v]", time.Since(start))))
		}()

		next.ServeHTTP(responseWriter, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// protectedRouteMiddleware rejects requests without a valid access token &
// puts the token's user in the request context
func (s *Server) protectedRouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decodedJWT := s.decodeAndVerifyAuthHeader(r.Context(), r.Header.Get("Authorization"))
		if decodedJWT.ErrorMsg != "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeErrors(w, http.StatusUnauthorized, decodedJWT.ErrorMsg)
			return
		}

		ctx := context.WithValue(r.Context(), RequestContextKey("currentUser"), decodedJWT.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware lets through at most LIST_RATE_LIMIT requests per
// client & path in each window. Limiter errors let the request through.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := s.limiter.Allow(r.Context(), rateLimitKey(r))
		if err != nil {
			logg.Errorf("rate limiter unavailable: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeErrors(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
