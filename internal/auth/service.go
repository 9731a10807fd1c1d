package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Messages returned to callers. Login and refresh failures are deliberately
// uniform so they reveal nothing about which check failed.
const (
	msgInvalidCredentials = "Invalid phone number or password"
	msgInvalidRefresh     = "Invalid or expired refresh token"
	msgUserNotFound       = "User not found"
	msgValidationFailed   = "Validation failed"
)

// RegisterInput is the data needed to create an account.
// Birthdate is optional and accepts YYYY-MM-DD or RFC 3339.
type RegisterInput struct {
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	Fathername string `json:"fathername"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	Birthdate  string `json:"birthdate,omitempty"`
	Email      string `json:"email,omitempty"`
	WorkEmail  string `json:"workEmail,omitempty"`
	WorkPhone  string `json:"workPhone,omitempty"`
	RoleID     int64  `json:"roleId"`
	OfficeID   *int64 `json:"officeId,omitempty"`
	BranchID   *int64 `json:"branchId,omitempty"`
}

// Session is the result of a successful login.
type Session struct {
	User   *User     `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// ServiceDeps holds the collaborators of Service.
type ServiceDeps struct {
	Users    UserRepository
	Roles    RoleRepository
	Orgs     OrgRepository
	Verifier *CredentialVerifier
	Tokens   *TokenService
	Cache    Invalidator // optional
	Events   EventSink   // optional
	Logger   *slog.Logger
}

// Service implements register, login, refresh, logout and current-user.
//
// Every error it returns is an *Error; use KindOf and MessageOf to render it.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Refresh rotation is
//     serialised by the store's compare-and-set.
type Service struct {
	users    UserRepository
	roles    RoleRepository
	orgs     OrgRepository
	verifier *CredentialVerifier
	tokens   *TokenService
	cache    Invalidator
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Roles == nil:
		return nil, errors.New("role repository is required")
	case deps.Orgs == nil:
		return nil, errors.New("org repository is required")
	case deps.Verifier == nil:
		return nil, errors.New("credential verifier is required")
	case deps.Tokens == nil:
		return nil, errors.New("token service is required")
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	}

	events := deps.Events
	if events == nil {
		events = NopEventSink{}
	}
	return &Service{
		users:    deps.Users,
		roles:    deps.Roles,
		orgs:     deps.Orgs,
		verifier: deps.Verifier,
		tokens:   deps.Tokens,
		cache:    deps.Cache,
		events:   events,
		logger:   deps.Logger,
		now:      nowUTC,
	}, nil
}

// Register creates an active account. It does not log the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	birthdate, problems := validateRegister(&in)
	if len(problems) > 0 {
		return nil, InvalidInput(msgValidationFailed, problems...)
	}
	if in.OfficeID == nil && in.BranchID == nil {
		return nil, InvalidInput("User must be assigned to either an office or a branch")
	}

	if _, err := s.users.GetByPhone(ctx, in.Phone); err == nil {
		s.recordEvent(ctx, EventRegister, OutcomeDenied, 0, in.RoleID)
		return nil, NewError(KindConflict, "User with this phone number already exists", ErrPhoneExists)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, s.storeError(ctx, EventRegister, "checking phone", err)
	}

	if err := s.checkReferences(ctx, &in); err != nil {
		return nil, err
	}

	hash, err := s.verifier.Hash(ctx, in.Password)
	if err != nil {
		if KindOf(err) == KindTransient {
			return nil, err
		}
		s.logger.Error("hashing password failed", "error", err)
		return nil, NewError(KindInternal, "Internal server error", err)
	}

	user := &User{
		Name:         in.Name,
		Surname:      in.Surname,
		Fathername:   in.Fathername,
		Phone:        in.Phone,
		PasswordHash: hash,
		Birthdate:    birthdate,
		Email:        in.Email,
		WorkEmail:    in.WorkEmail,
		WorkPhone:    in.WorkPhone,
		RoleID:       in.RoleID,
		OfficeID:     in.OfficeID,
		BranchID:     in.BranchID,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrPhoneExists):
			s.recordEvent(ctx, EventRegister, OutcomeDenied, 0, in.RoleID)
			return nil, NewError(KindConflict, "User with this phone number already exists", err)
		case errors.Is(err, ErrInvalidReference):
			return nil, InvalidInput("Referenced role, office or branch does not exist")
		default:
			return nil, s.storeError(ctx, EventRegister, "creating user", err)
		}
	}

	s.logger.Info("user registered", "user_id", user.ID, "role_id", user.RoleID)
	s.recordEvent(ctx, EventRegister, OutcomeSuccess, user.ID, user.RoleID)
	return user.Sanitized(), nil
}

// checkReferences confirms the role, office and branch exist and agree.
func (s *Service) checkReferences(ctx context.Context, in *RegisterInput) error {
	if _, err := s.roles.GetByID(ctx, in.RoleID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return InvalidInput("Role does not exist")
		}
		return s.storeError(ctx, EventRegister, "checking role", err)
	}
	if in.OfficeID != nil {
		if _, err := s.orgs.GetOffice(ctx, *in.OfficeID); err != nil {
			if errors.Is(err, ErrOfficeNotFound) {
				return InvalidInput("Office does not exist")
			}
			return s.storeError(ctx, EventRegister, "checking office", err)
		}
	}
	if in.BranchID != nil {
		branch, err := s.orgs.GetBranch(ctx, *in.BranchID)
		if err != nil {
			if errors.Is(err, ErrBranchNotFound) {
				return InvalidInput("Branch does not exist")
			}
			return s.storeError(ctx, EventRegister, "checking branch", err)
		}
		if in.OfficeID != nil && branch.OfficeID != *in.OfficeID {
			return InvalidInput("Branch does not belong to the given office")
		}
	}
	return nil
}

// Login checks a phone and password and starts a new session, replacing any
// previous one. Unknown phone, wrong password and inactive account are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, phone, password string) (*Session, error) {
	if problems := validateLogin(phone, password); len(problems) > 0 {
		return nil, InvalidInput(msgValidationFailed, problems...)
	}

	user, err := s.users.GetByPhone(ctx, phone)
	switch {
	case errors.Is(err, ErrUserNotFound):
		if derr := s.verifier.VerifyDummy(ctx, password); derr != nil && KindOf(derr) == KindTransient {
			return nil, derr
		}
		s.logger.Info("login failed", "reason", "unknown phone")
		s.recordEvent(ctx, EventLogin, OutcomeDenied, 0, 0)
		return nil, NewError(KindUnauthorized, msgInvalidCredentials, nil)
	case err != nil:
		return nil, s.storeError(ctx, EventLogin, "looking up user", err)
	}

	ok, err := s.verifier.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		if KindOf(err) == KindTransient {
			return nil, err
		}
		s.logger.Error("stored password hash is malformed", "user_id", user.ID, "error", err)
		ok = false
	}
	if !ok || !user.Active {
		reason := "wrong password"
		if ok {
			reason = "inactive account"
		}
		s.logger.Info("login failed", "user_id", user.ID, "reason", reason)
		s.recordEvent(ctx, EventLogin, OutcomeDenied, user.ID, user.RoleID)
		return nil, NewError(KindUnauthorized, msgInvalidCredentials, nil)
	}

	pair, err := s.tokens.IssuePair(ClaimsFor(user))
	if err != nil {
		s.logger.Error("issuing tokens failed", "user_id", user.ID, "error", err)
		s.recordEvent(ctx, EventLogin, OutcomeError, user.ID, user.RoleID)
		return nil, NewError(KindInternal, "Internal server error", err)
	}

	now := s.now()
	err = s.users.StartSession(ctx, user.ID, HashToken(pair.RefreshToken), pair.RefreshExpiresAt, now)
	switch {
	case errors.Is(err, ErrUserNotFound):
		s.recordEvent(ctx, EventLogin, OutcomeDenied, user.ID, user.RoleID)
		return nil, NewError(KindUnauthorized, msgInvalidCredentials, err)
	case err != nil:
		return nil, s.storeError(ctx, EventLogin, "starting session", err)
	}

	user.LastLoginAt = &now
	s.logger.Info("user logged in", "user_id", user.ID, "role_id", user.RoleID)
	s.recordEvent(ctx, EventLogin, OutcomeSuccess, user.ID, user.RoleID)
	return &Session{User: user.Sanitized(), Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token
// must be the one currently stored for the user; once rotated it is dead.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, InvalidInput("Refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.logger.Info("refresh rejected", "reason", "token verification", "error", err)
		s.recordEvent(ctx, EventRefresh, OutcomeDenied, 0, 0)
		return TokenPair{}, NewError(KindUnauthorized, msgInvalidRefresh, err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		s.recordEvent(ctx, EventRefresh, OutcomeDenied, claims.UserID, claims.RoleID)
		return TokenPair{}, NewError(KindNotFound, msgUserNotFound, err)
	case err != nil:
		return TokenPair{}, s.storeError(ctx, EventRefresh, "looking up user", err)
	}

	if reason := s.sessionProblem(user, refreshToken); reason != nil {
		s.logger.Info("refresh rejected", "user_id", user.ID, "reason", reason)
		s.recordEvent(ctx, EventRefresh, OutcomeDenied, user.ID, user.RoleID)
		return TokenPair{}, NewError(KindUnauthorized, msgInvalidRefresh, reason)
	}

	pair, err := s.tokens.IssuePair(ClaimsFor(user))
	if err != nil {
		s.logger.Error("issuing tokens failed", "user_id", user.ID, "error", err)
		s.recordEvent(ctx, EventRefresh, OutcomeError, user.ID, user.RoleID)
		return TokenPair{}, NewError(KindInternal, "Internal server error", err)
	}

	err = s.users.RotateSession(ctx, user.ID, user.RefreshTokenHash, HashToken(pair.RefreshToken), pair.RefreshExpiresAt)
	switch {
	case errors.Is(err, ErrTokenMismatch):
		s.logger.Info("refresh rejected", "user_id", user.ID, "reason", "rotated concurrently")
		s.recordEvent(ctx, EventRefresh, OutcomeDenied, user.ID, user.RoleID)
		return TokenPair{}, NewError(KindUnauthorized, msgInvalidRefresh, err)
	case err != nil:
		return TokenPair{}, s.storeError(ctx, EventRefresh, "rotating session", err)
	}

	s.recordEvent(ctx, EventRefresh, OutcomeSuccess, user.ID, user.RoleID)
	return pair, nil
}

// sessionProblem returns why user's stored session does not accept token, or nil.
func (s *Service) sessionProblem(user *User, token string) error {
	if !user.Active {
		return errors.New("account is inactive")
	}
	if user.RefreshTokenHash == "" ||
		subtle.ConstantTimeCompare([]byte(user.RefreshTokenHash), []byte(HashToken(token))) != 1 {
		return ErrTokenMismatch
	}
	if user.TokenExpiry == nil || !s.now().Before(*user.TokenExpiry) {
		return ErrRefreshExpired
	}
	return nil
}

// Logout ends the user's session. Logging out twice is not an error.
// Access tokens already issued stay valid until they expire.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.users.ClearSession(ctx, userID); err != nil {
		return s.storeError(ctx, EventLogout, "clearing session", err)
	}
	s.logger.Info("user logged out", "user_id", userID)
	s.recordEvent(ctx, EventLogout, OutcomeSuccess, userID, 0)
	return nil
}

// CurrentUser returns the sanitised account for userID.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, NewError(KindNotFound, msgUserNotFound, err)
	case err != nil:
		s.logger.Error("looking up current user failed", "user_id", userID, "error", err)
		return nil, storeFailure("looking up user", err)
	}
	return user.Sanitized(), nil
}

// storeError logs an unexpected repository failure, records it, and
// returns it as Transient.
func (s *Service) storeError(ctx context.Context, event EventType, op string, err error) error {
	s.logger.Error(op+" failed", "event", string(event), "error", err)
	s.recordEvent(ctx, event, OutcomeError, 0, 0)
	return storeFailure(op, err)
}

func (s *Service) recordEvent(ctx context.Context, t EventType, o Outcome, userID, roleID int64) {
	s.events.RecordAuthEvent(ctx, AuthEvent{
		Type:    t,
		Outcome: o,
		UserID:  userID,
		RoleID:  roleID,
		At:      s.now(),
	})
}

func validateRegister(in *RegisterInput) (*time.Time, []string) {
	var problems []string

	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.Fathername = strings.TrimSpace(in.Fathername)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Name == "" {
		problems = append(problems, "Name is required and must be a non-empty string")
	}
	if in.Surname == "" {
		problems = append(problems, "Surname is required and must be a non-empty string")
	}
	if in.Fathername == "" {
		problems = append(problems, "Father name is required and must be a non-empty string")
	}
	problems = append(problems, phoneProblems(in.Phone)...)

	switch {
	case in.Password == "":
		problems = append(problems, "Password is required")
	case len(in.Password) < minPasswordLength:
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters long", minPasswordLength))
	}

	var birthdate *time.Time
	if in.Birthdate != "" {
		t, err := parseBirthdate(in.Birthdate)
		if err != nil {
			problems = append(problems, "Birthdate must be a valid date")
		} else {
			birthdate = &t
		}
	}

	if in.RoleID <= 0 {
		problems = append(problems, "Role ID must be a positive integer")
	}
	if in.OfficeID != nil && *in.OfficeID <= 0 {
		problems = append(problems, "Office ID must be a positive integer")
	}
	if in.BranchID != nil && *in.BranchID <= 0 {
		problems = append(problems, "Branch ID must be a positive integer")
	}

	return birthdate, problems
}

func validateLogin(phone, password string) []string {
	problems := phoneProblems(phone)
	if password == "" {
		problems = append(problems, "Password is required")
	}
	return problems
}

func phoneProblems(phone string) []string {
	switch {
	case strings.TrimSpace(phone) == "":
		return []string{"Phone is required"}
	case !IsValidPhone(phone):
		return []string{"Phone number format is invalid"}
	default:
		return nil
	}
}

func parseBirthdate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
