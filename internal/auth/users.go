// Package auth is HomeRoute's local identity provider: a YAML-backed
// user store, Argon2id password hashing, a SQLite session store, and
// the forward-auth check the reverse proxy calls on every
// authenticated route (spec.md §4.7).
package auth

import (
	"os"
	"path/filepath"
	"time"

	"github.com/localplatform/homeroute/internal/herr"
	"gopkg.in/yaml.v3"
)

// User is a user record without its password hash.
type User struct {
	Username    string    `yaml:"-"`
	DisplayName string    `yaml:"displayname"`
	Email       string    `yaml:"email"`
	Groups      []string  `yaml:"groups"`
	Disabled    bool      `yaml:"disabled"`
	Created     time.Time `yaml:"created"`
	LastLogin   time.Time `yaml:"last_login,omitempty"`
}

// IsAdmin reports whether the user belongs to the "admins" group.
func (u *User) IsAdmin() bool {
	for _, g := range u.Groups {
		if g == "admins" {
			return true
		}
	}
	return false
}

type userRecord struct {
	DisplayName string   `yaml:"displayname"`
	Email       string   `yaml:"email"`
	Password    string   `yaml:"password"`
	Groups      []string `yaml:"groups"`
	Disabled    bool     `yaml:"disabled"`
	Created     string   `yaml:"created,omitempty"`
	LastLogin   string   `yaml:"last_login,omitempty"`
}

type usersFile struct {
	Users map[string]userRecord `yaml:"users"`
}

// UserStore is a YAML-file-backed user directory. Every operation
// reads and rewrites the whole file, matching the original daemon's
// load-mutate-save pattern (small, infrequently-written user counts).
type UserStore struct {
	path string
}

// NewUserStore returns a UserStore backed by <dataDir>/users.yml.
func NewUserStore(dataDir string) *UserStore {
	return &UserStore{path: filepath.Join(dataDir, "users.yml")}
}

func (s *UserStore) load() (usersFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return usersFile{Users: map[string]userRecord{}}, nil
	}
	if err != nil {
		return usersFile{}, err
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return usersFile{Users: map[string]userRecord{}}, nil
	}
	if f.Users == nil {
		f.Users = map[string]userRecord{}
	}
	return f, nil
}

func (s *UserStore) save(f usersFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func toUser(username string, r userRecord) User {
	u := User{
		Username:    username,
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Groups:      r.Groups,
		Disabled:    r.Disabled,
	}
	if r.DisplayName == "" {
		u.DisplayName = username
	}
	if t, err := time.Parse(time.RFC3339, r.Created); err == nil {
		u.Created = t
	}
	if t, err := time.Parse(time.RFC3339, r.LastLogin); err == nil {
		u.LastLogin = t
	}
	return u
}

// All returns every user, without password hashes.
func (s *UserStore) All() ([]User, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(f.Users))
	for name, r := range f.Users {
		users = append(users, toUser(name, r))
	}
	return users, nil
}

// Get returns one user by username.
func (s *UserStore) Get(username string) (*User, bool) {
	f, err := s.load()
	if err != nil {
		return nil, false
	}
	r, ok := f.Users[username]
	if !ok {
		return nil, false
	}
	u := toUser(username, r)
	return &u, true
}

// passwordHash returns the stored Argon2id hash for username, used only
// by the login path, never exposed through User.
func (s *UserStore) passwordHash(username string) (string, bool) {
	f, err := s.load()
	if err != nil {
		return "", false
	}
	r, ok := f.Users[username]
	if !ok || r.Password == "" {
		return "", false
	}
	return r.Password, true
}

// Create adds a new user, validating the username shape and minimum
// password length the way the original daemon does.
func (s *UserStore) Create(username, password, displayName, email string, groups []string) (*User, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	if _, exists := f.Users[username]; exists {
		return nil, herr.New(herr.Validation, "user already exists")
	}
	if !validUsername(username) {
		return nil, herr.New(herr.Validation, "invalid username: 3-32 chars, alphanumeric, _ or -")
	}
	if len(password) < 8 {
		return nil, herr.New(herr.Validation, "password must be at least 8 characters")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "hash password", err)
	}
	if displayName == "" {
		displayName = username
	}
	now := time.Now().UTC().Format(time.RFC3339)
	f.Users[username] = userRecord{
		DisplayName: displayName,
		Email:       email,
		Password:    hash,
		Groups:      groups,
		Created:     now,
	}
	if err := s.save(f); err != nil {
		return nil, herr.Wrap(herr.IO, "save users file", err)
	}
	u, _ := s.Get(username)
	return u, nil
}

// UserUpdates is a partial update; nil fields are left unchanged.
type UserUpdates struct {
	DisplayName *string
	Email       *string
	Groups      *[]string
	Disabled    *bool
}

func (s *UserStore) Update(username string, updates UserUpdates) (*User, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	r, ok := f.Users[username]
	if !ok {
		return nil, herr.New(herr.NotFound, "user not found")
	}
	if updates.DisplayName != nil {
		r.DisplayName = *updates.DisplayName
	}
	if updates.Email != nil {
		r.Email = *updates.Email
	}
	if updates.Groups != nil {
		r.Groups = *updates.Groups
	}
	if updates.Disabled != nil {
		r.Disabled = *updates.Disabled
	}
	f.Users[username] = r
	if err := s.save(f); err != nil {
		return nil, herr.Wrap(herr.IO, "save users file", err)
	}
	u, _ := s.Get(username)
	return u, nil
}

func (s *UserStore) ChangePassword(username, newPassword string) error {
	if len(newPassword) < 8 {
		return herr.New(herr.Validation, "password must be at least 8 characters")
	}
	f, err := s.load()
	if err != nil {
		return err
	}
	r, ok := f.Users[username]
	if !ok {
		return herr.New(herr.NotFound, "user not found")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return herr.Wrap(herr.IO, "hash password", err)
	}
	r.Password = hash
	f.Users[username] = r
	return s.save(f)
}

func (s *UserStore) UpdateLastLogin(username string) error {
	f, err := s.load()
	if err != nil {
		return err
	}
	r, ok := f.Users[username]
	if !ok {
		return herr.New(herr.NotFound, "user not found")
	}
	r.LastLogin = time.Now().UTC().Format(time.RFC3339)
	f.Users[username] = r
	return s.save(f)
}

func (s *UserStore) Delete(username string) error {
	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Users[username]; !ok {
		return herr.New(herr.NotFound, "user not found")
	}
	delete(f.Users, username)
	return s.save(f)
}

func validUsername(username string) bool {
	if len(username) < 3 || len(username) > 32 {
		return false
	}
	for _, c := range username {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// VerifyLogin checks username/password and returns the user on success.
func (s *UserStore) VerifyLogin(username, password string) (*User, bool) {
	hash, ok := s.passwordHash(username)
	if !ok {
		return nil, false
	}
	if !VerifyPassword(password, hash) {
		return nil, false
	}
	u, ok := s.Get(username)
	if !ok || u.Disabled {
		return nil, false
	}
	return u, true
}
