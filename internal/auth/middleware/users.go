package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/certprep/internal/rbac"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrUserNotFound       = errors.New("user not found")
)

const bcryptCost = 12

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Users is the local identity provider backed by the users table.
type Users struct {
	db   *sql.DB
	cost int
}

func NewUsers(db *sql.DB) *Users { return &Users{db: db, cost: bcryptCost} }

// SetCost lowers the bcrypt cost; tests use bcrypt.MinCost.
func (u *Users) SetCost(c int) { u.cost = c }

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s {
		return "", ErrInvalidEmail
	}
	return s, nil
}

func (u *Users) Register(ctx context.Context, email, password, role string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if len(password) < 8 {
		return User{}, ErrWeakPassword
	}
	if role == "" {
		role = rbac.RoleUser
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return User{}, err
	}
	usr := User{ID: uuid.NewString(), Email: email, Role: role, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	res, err := u.db.ExecContext(ctx, `INSERT INTO users (id,email,password_hash,role,created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (email) DO NOTHING`,
		usr.ID, usr.Email, string(hash), usr.Role, usr.CreatedAt.Unix())
	if err != nil {
		return User{}, fmt.Errorf("register: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, ErrEmailTaken
	}
	return usr, nil
}

// Authenticate checks the password and returns the user.
func (u *Users) Authenticate(ctx context.Context, email, password string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	var (
		usr     User
		hash    string
		created int64
	)
	err = u.db.QueryRowContext(ctx, `SELECT id,email,password_hash,role,created_at FROM users WHERE email=$1`, email).
		Scan(&usr.ID, &usr.Email, &hash, &usr.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("authenticate: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	usr.CreatedAt = time.Unix(created, 0).UTC()
	return usr, nil
}

func (u *Users) Get(ctx context.Context, id string) (User, error) {
	var (
		usr     User
		created int64
	)
	err := u.db.QueryRowContext(ctx, `SELECT id,email,role,created_at FROM users WHERE id=$1`, id).
		Scan(&usr.ID, &usr.Email, &usr.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	usr.CreatedAt = time.Unix(created, 0).UTC()
	return usr, nil
}

func (u *Users) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	var stored string
	err := u.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), u.cost)
	if err != nil {
		return err
	}
	if _, err := u.db.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, string(hash), id); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func writeToken(w http.ResponseWriter, a *AuthService, usr User, status int) {
	tok, err := a.IssueJWT(usr.ID, usr.Email, usr.Role)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "user": usr})
}

// POST /auth/register  { "email": "...", "password": "..." }
func RegisterHandler(a *AuthService, users *Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		usr, err := users.Register(r.Context(), req.Email, req.Password, rbac.RoleUser)
		switch {
		case errors.Is(err, ErrEmailTaken):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}
		writeToken(w, a, usr, http.StatusCreated)
	}
}

// POST /auth/login  { "email": "...", "password": "..." }
func LoginHandler(a *AuthService, users *Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		usr, err := users.Authenticate(r.Context(), req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		writeToken(w, a, usr, http.StatusOK)
	}
}
