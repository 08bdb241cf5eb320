// Package apitest runs an in-memory blog API for tests. It speaks the same
// envelope, bearer-token and refresh protocol as the real backend.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alexjbarnes/blog-client/blogapi"
)

// BasePath is where the API is mounted on the test server.
const BasePath = "/api/v1"

// OTP is the one-time code every registration is verified with.
const OTP = "123456"

var signingKey = []byte("apitest-signing-key")

type account struct {
	user     blogapi.User
	password string
	verified bool
}

// Server is a fake blog API backed by maps.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by user ID
	access   map[string]string   // access token -> user ID
	refresh  map[string]string   // refresh token -> user ID
	posts    []blogapi.Post
	nextID   int

	refreshCalls int

	// RotateRefreshTokens makes /auth/refresh issue a new refresh token and
	// revoke the old one.
	RotateRefreshTokens bool

	// AccessTokenTTL sets the exp claim of issued access tokens.
	AccessTokenTTL time.Duration
}

// New starts a server. It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		accounts:       make(map[string]*account),
		access:         make(map[string]string),
		refresh:        make(map[string]string),
		AccessTokenTTL: 15 * time.Minute,
	}

	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)

	return s
}

// URL is the API base URL, suitable for blogapi.Config.BaseURL.
func (s *Server) URL() string {
	return s.srv.URL + BasePath
}

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/users", s.handleRegister)
		r.Post("/users/verify", s.handleVerify)
		r.Get("/users/{id}/posts", s.handleListPosts)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/users/{id}", s.handleGetUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Post("/users/{id}/avatar", s.handleAvatar)
			r.Post("/posts", s.handleCreatePost)
		})
	})

	return r
}

// --- test controls ---

// SeedUser registers a verified account and returns it.
func (s *Server) SeedUser(username, email, password string) blogapi.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.newAccount(username, email, password)
	a.verified = true

	return a.user
}

// ExpireAccessTokens invalidates every issued access token, so the next
// authenticated request gets a 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.access)
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.refresh)
}

// RefreshCalls is the number of requests /auth/refresh has served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refreshCalls
}

// Posts returns a copy of the stored posts.
func (s *Server) Posts() []blogapi.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]blogapi.Post(nil), s.posts...)
}

// --- helpers ---

func (s *Server) newAccount(username, email, password string) *account {
	s.nextID++
	now := time.Now().UTC().Format(time.RFC3339)

	a := &account{
		user: blogapi.User{
			ID:        strconv.Itoa(s.nextID),
			Username:  username,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		},
		password: password,
	}
	s.accounts[a.user.ID] = a

	return a
}

func (s *Server) accountByEmail(email string) *account {
	for _, a := range s.accounts {
		if a.user.Email == email {
			return a
		}
	}

	return nil
}

// issueAccess mints a signed JWT access token for userID.
func (s *Server) issueAccess(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.AccessTokenTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return "", err
	}

	s.access[token] = userID

	return token, nil
}

func (s *Server) issueRefresh(userID string) string {
	token := "rt-" + uuid.NewString()
	s.refresh[token] = userID

	return token
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, map[string]any{
		"success": false,
		"data":    nil,
		"error":   map[string]string{"code": code, "message": message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		userID, valid := s.access[token]
		s.mu.Unlock()

		if !ok || !valid {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		r.Header.Set("X-User-ID", userID)
		next.ServeHTTP(w, r)
	})
}

// --- handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req blogapi.LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountByEmail(req.Email)
	if a == nil || a.password != req.Password {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	if !a.verified {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email not verified")
		return
	}

	access, err := s.issueAccess(a.user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	writeData(w, http.StatusOK, blogapi.LoginResponse{
		AccessToken:  access,
		RefreshToken: s.issueRefresh(a.user.ID),
		User:         a.user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req blogapi.RefreshRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshCalls++

	userID, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token")
		return
	}

	access, err := s.issueAccess(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	resp := blogapi.TokenResponse{AccessToken: access}

	if s.RotateRefreshTokens {
		delete(s.refresh, req.RefreshToken)
		resp.RefreshToken = s.issueRefresh(userID)
	}

	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req blogapi.RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accountByEmail(req.Email) != nil {
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
		return
	}

	a := s.newAccount(req.Username, req.Email, req.Password)
	writeData(w, http.StatusCreated, a.user)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req blogapi.VerifyOTPRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountByEmail(req.Email)
	if a == nil || req.OTP != OTP {
		writeError(w, http.StatusBadRequest, "INVALID_OTP", "invalid or expired code")
		return
	}

	a.verified = true
	writeData(w, http.StatusOK, blogapi.MessageResponse{Message: "email verified"})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}

	writeData(w, http.StatusOK, a.user)
}

// ownAccount returns the caller's account when it matches the {id} path
// parameter, writing the error response otherwise.
func (s *Server) ownAccount(w http.ResponseWriter, r *http.Request) *account {
	id := chi.URLParam(r, "id")
	if id != r.Header.Get("X-User-ID") {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "cannot modify another user")
		return nil
	}

	a, ok := s.accounts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return nil
	}

	return a
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req blogapi.UpdateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.ownAccount(w, r)
	if a == nil {
		return
	}

	if req.Username != nil {
		a.user.Username = *req.Username
	}

	if req.Email != nil {
		a.user.Email = *req.Email
	}

	if req.Bio != nil {
		a.user.Bio = *req.Bio
	}

	a.user.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	writeData(w, http.StatusOK, a.user)
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "expected multipart form")
		return
	}

	files := r.MultipartForm.File["avatar"]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "avatar file is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.ownAccount(w, r)
	if a == nil {
		return
	}

	a.user.Image = "/uploads/" + files[0].Filename
	writeData(w, http.StatusOK, a.user)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}

	var mine []blogapi.Post
	for _, p := range s.posts {
		if p.AuthorUsername == a.user.Username {
			mine = append(mine, p)
		}
	}

	start := min((page-1)*pageSize, len(mine))
	end := min(start+pageSize, len(mine))

	writeEnvelope(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    append([]blogapi.Post{}, mine[start:end]...),
		"meta": blogapi.Meta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: len(mine),
			TotalPages: (len(mine) + pageSize - 1) / pageSize,
		},
	})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "expected multipart form")
		return
	}

	form := r.MultipartForm.Value
	first := func(name string) string {
		if v := form[name]; len(v) > 0 {
			return v[0]
		}

		return ""
	}

	if first("title") == "" || first("slug") == "" || first("body") == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "title, slug and body are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	author, ok := s.accounts[r.Header.Get("X-User-ID")]
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	lat, _ := strconv.ParseFloat(first("lat"), 64)
	lon, _ := strconv.ParseFloat(first("lon"), 64)

	post := blogapi.Post{
		ID:             fmt.Sprintf("post-%d", len(s.posts)+1),
		Title:          first("title"),
		Slug:           first("slug"),
		Body:           first("body"),
		Abstract:       first("abstract"),
		Published:      first("published") == "true",
		Location:       first("location"),
		Lat:            lat,
		Lon:            lon,
		Locale:         first("locale"),
		Tags:           form["tags"],
		CreatedAt:      now,
		UpdatedAt:      now,
		AuthorUsername: author.user.Username,
		AuthorName:     author.user.Username,
	}

	if files := r.MultipartForm.File["image"]; len(files) > 0 {
		post.ImageURL = "/uploads/" + files[0].Filename
	}

	s.posts = append(s.posts, post)
	writeData(w, http.StatusCreated, post)
}
