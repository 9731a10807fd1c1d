package auth

import (
	"regexp"
	"sort"
	"time"
)

// phonePattern accepts an optional leading +, optional parenthesised area
// code, and up to three digit groups separated by -, space or dot.
var phonePattern = regexp.MustCompile(`^[+]?[(]?[0-9]{1,4}[)]?[-\s.]?[(]?[0-9]{1,4}[)]?[-\s.]?[0-9]{1,9}$`)

// IsValidPhone reports whether phone is an acceptable login identifier.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// minPasswordLength is the shortest password Register accepts.
const minPasswordLength = 8

// User is an employee account. Phone is the login identifier.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Surname      string     `json:"surname"`
	Fathername   string     `json:"fathername"`
	Phone        string     `json:"phone"`
	PasswordHash string     `json:"-"` // never serialised
	Birthdate    *time.Time `json:"birthdate,omitempty"`
	Email        string     `json:"email,omitempty"`
	WorkEmail    string     `json:"workEmail,omitempty"`
	WorkPhone    string     `json:"workPhone,omitempty"`
	RoleID       int64      `json:"roleId"`
	OfficeID     *int64     `json:"officeId,omitempty"`
	BranchID     *int64     `json:"branchId,omitempty"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	// Session state. At most one refresh token is live per user.
	RefreshTokenHash string     `json:"-"`
	TokenExpiry      *time.Time `json:"-"`
	DeletedAt        *time.Time `json:"-"`
}

// Sanitized returns a copy of u with credentials and session state removed.
func (u *User) Sanitized() *User {
	c := *u
	c.PasswordHash = ""
	c.RefreshTokenHash = ""
	c.TokenExpiry = nil
	return &c
}

// Role is a named bundle of permissions. System roles cannot be modified or deleted.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Permissions []string   `json:"permissions"`
	IsSystem    bool       `json:"isSystem"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	DeletedBy   *int64     `json:"deletedBy,omitempty"`
}

// Office is the top level of the organisation.
type Office struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Active bool   `json:"active"`
}

// Branch belongs to exactly one office.
type Branch struct {
	ID       int64  `json:"id"`
	OfficeID int64  `json:"officeId"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Active   bool   `json:"active"`
}

// PermissionSet is an immutable set of permission keys.
type PermissionSet struct {
	keys map[string]struct{}
}

// NewPermissionSet builds a set from keys. Duplicates collapse.
func NewPermissionSet(keys ...string) PermissionSet {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return PermissionSet{keys: m}
}

// Has reports whether key is in the set.
func (s PermissionSet) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// HasAny reports whether at least one of keys is in the set.
// An empty keys list is never satisfied.
func (s PermissionSet) HasAny(keys ...string) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether every key is in the set.
func (s PermissionSet) HasAll(keys ...string) bool {
	return len(s.Missing(keys...)) == 0
}

// Missing returns the keys not present in the set, in input order.
func (s PermissionSet) Missing(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if !s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int { return len(s.keys) }

// Keys returns the permissions sorted alphabetically.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
