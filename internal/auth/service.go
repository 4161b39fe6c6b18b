package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidCredentials is returned when email/password authentication fails.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAdminNotFound is returned when an admin does not exist.
	ErrAdminNotFound = errors.New("admin not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("an admin with this email already exists")

	// ErrMissingFields is returned when email, password or name is empty.
	ErrMissingFields = errors.New("email, password and name are required")

	// ErrRegistrationClosed is returned when a non-superadmin registers
	// while admins already exist.
	ErrRegistrationClosed = errors.New("registration is closed: ask a superadmin to create your account")

	// ErrTwoFactorRequired is returned when the account has 2FA and no code was given.
	ErrTwoFactorRequired = errors.New("two-factor code required")

	// ErrInvalidTOTPCode is returned when a TOTP or recovery code is invalid.
	ErrInvalidTOTPCode = errors.New("invalid two-factor code")

	// ErrTOTPAlreadySetup is returned when 2FA is already enabled.
	ErrTOTPAlreadySetup = errors.New("two-factor authentication is already set up")

	// ErrTOTPNotSetup is returned when confirming 2FA before setup.
	ErrTOTPNotSetup = errors.New("two-factor authentication is not set up")
)

// registrationLock serialises the "no admin exists yet" check with the insert.
const registrationLock = 7265

// Admin is a marketplace administrator.
type Admin struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	PasswordHash  string   `json:"-"`
	TOTPSecret    string   `json:"-"`
	RecoveryCodes []string `json:"-"`
}

// AdminSummary is an admin with the number of listings they own.
type AdminSummary struct {
	Admin
	CarCount  int `json:"carCount"`
	PartCount int `json:"partCount"`
}

// LoginResult is a successful login.
type LoginResult struct {
	Admin *Admin `json:"admin"`
	Token string `json:"token"`
}

// Service handles admin accounts and authentication.
type Service struct {
	pool   *pgxpool.Pool
	jwt    *JWTManager
	issuer string
	logger *slog.Logger
}

// NewService creates a new auth service. issuer names the account in
// authenticator apps.
func NewService(pool *pgxpool.Pool, jwt *JWTManager, issuer string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, jwt: jwt, issuer: issuer, logger: logger}
}

// Register creates an admin account. Registration is open while no admin
// exists, and the first account becomes a superadmin. After that only a
// superadmin caller may register new admins.
func (s *Service) Register(ctx context.Context, caller *Principal, email, password, name string) (*Admin, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return nil, ErrMissingFields
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLock); err != nil {
		return nil, fmt.Errorf("locking registration: %w", err)
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM admins`).Scan(&existing); err != nil {
		return nil, fmt.Errorf("counting admins: %w", err)
	}

	role := RoleAdmin
	switch {
	case existing == 0:
		role = RoleSuperadmin
	case caller == nil || !caller.IsSuperadmin():
		return nil, ErrRegistrationClosed
	}

	id, err := insertAdmin(ctx, tx, email, name, hash, role)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing registration: %w", err)
	}

	s.logger.Info("admin registered",
		slog.String("admin_id", id.String()),
		slog.String("email", email),
		slog.String("role", role),
	)
	return s.GetByID(ctx, id)
}

// Create inserts an admin with the given role, bypassing the registration
// rules. It is meant for provisioning tools.
func (s *Service) Create(ctx context.Context, email, name, password, role string) (*Admin, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" || strings.TrimSpace(name) == "" {
		return nil, ErrMissingFields
	}
	if role != RoleAdmin && role != RoleSuperadmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	id, err := insertAdmin(ctx, s.pool, email, strings.TrimSpace(name), hash, role)
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAdmin(ctx context.Context, db execer, email, name, hash, role string) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := db.Exec(ctx, `
		INSERT INTO admins (id, email, name, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, email, name, hash, role, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrEmailTaken
		}
		return uuid.Nil, fmt.Errorf("inserting admin: %w", err)
	}
	return id, nil
}

// Login authenticates an admin and issues a token. When the account has
// 2FA enabled, code must be a valid TOTP code or an unused recovery code.
func (s *Service) Login(ctx context.Context, email, password, code string) (*LoginResult, error) {
	admin, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			_ = VerifyPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up admin: %w", err)
	}

	if err := VerifyPassword(admin.PasswordHash, password); err != nil {
		s.logger.Warn("failed login attempt", slog.String("email", admin.Email))
		return nil, ErrInvalidCredentials
	}

	if admin.TwoFactorEnabled {
		if strings.TrimSpace(code) == "" {
			return nil, ErrTwoFactorRequired
		}
		if err := s.checkSecondFactor(ctx, admin, code); err != nil {
			return nil, err
		}
	}

	token, err := s.jwt.Generate(admin)
	if err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx, `UPDATE admins SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), admin.ID); err != nil {
		s.logger.Error("failed to update last login",
			slog.String("admin_id", admin.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("admin login successful",
		slog.String("admin_id", admin.ID.String()),
		slog.String("email", admin.Email),
	)
	return &LoginResult{Admin: admin, Token: token}, nil
}

// checkSecondFactor accepts a TOTP code or burns a matching recovery code.
func (s *Service) checkSecondFactor(ctx context.Context, admin *Admin, code string) error {
	if ValidateTOTPCode(code, admin.TOTPSecret) {
		return nil
	}

	idx := MatchRecoveryCode(code, admin.RecoveryCodes)
	if idx == -1 {
		s.logger.Warn("failed 2FA attempt", slog.String("admin_id", admin.ID.String()))
		return ErrInvalidTOTPCode
	}

	remaining := make([]string, 0, len(admin.RecoveryCodes)-1)
	remaining = append(remaining, admin.RecoveryCodes[:idx]...)
	remaining = append(remaining, admin.RecoveryCodes[idx+1:]...)

	if _, err := s.pool.Exec(ctx, `
		UPDATE admins SET recovery_codes = $1, updated_at = $2 WHERE id = $3
	`, remaining, time.Now().UTC(), admin.ID); err != nil {
		return fmt.Errorf("burning recovery code: %w", err)
	}

	s.logger.Info("admin used recovery code",
		slog.String("admin_id", admin.ID.String()),
		slog.Int("codes_remaining", len(remaining)),
	)
	return nil
}

// Setup2FA generates and stores an unconfirmed TOTP secret.
func (s *Service) Setup2FA(ctx context.Context, adminID uuid.UUID) (*TOTPSetup, error) {
	admin, err := s.GetByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin.TwoFactorEnabled {
		return nil, ErrTOTPAlreadySetup
	}

	setup, err := GenerateTOTPSecret(s.issuer, admin.Email)
	if err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE admins SET totp_secret = $1, updated_at = $2 WHERE id = $3
	`, setup.Secret, time.Now().UTC(), adminID); err != nil {
		return nil, fmt.Errorf("storing TOTP secret: %w", err)
	}
	return setup, nil
}

// Confirm2FA enables 2FA once code validates against the pending secret.
// It returns the plaintext recovery codes, which are only shown once.
func (s *Service) Confirm2FA(ctx context.Context, adminID uuid.UUID, code string) ([]string, error) {
	admin, err := s.GetByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin.TwoFactorEnabled {
		return nil, ErrTOTPAlreadySetup
	}
	if admin.TOTPSecret == "" {
		return nil, ErrTOTPNotSetup
	}
	if !ValidateTOTPCode(code, admin.TOTPSecret) {
		return nil, ErrInvalidTOTPCode
	}

	recovery, err := GenerateRecoveryCodes()
	if err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE admins
		SET totp_verified = true, recovery_codes = $1, updated_at = $2
		WHERE id = $3
	`, recovery.Hashed, time.Now().UTC(), adminID); err != nil {
		return nil, fmt.Errorf("enabling 2FA: %w", err)
	}

	s.logger.Info("2fa enabled", slog.String("admin_id", adminID.String()))
	return recovery.Plaintext, nil
}

const adminColumns = `id, email, name, password_hash, role, totp_secret,
	totp_verified, recovery_codes, last_login_at, created_at, updated_at`

// GetByID fetches an admin by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Admin, error) {
	return scanAdmin(s.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
}

// GetByEmail fetches an admin by email, case-insensitively.
func (s *Service) GetByEmail(ctx context.Context, email string) (*Admin, error) {
	return scanAdmin(s.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE email = $1`, normalizeEmail(email)))
}

// List returns admins, newest first, with their listing counts and the
// total number of admins.
func (s *Service) List(ctx context.Context, page, limit int) ([]AdminSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM admins`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting admins: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.email, a.name, a.role, a.totp_verified, a.last_login_at,
		       a.created_at, a.updated_at,
		       (SELECT count(*) FROM cars c WHERE c.admin_id = a.id),
		       (SELECT count(*) FROM parts p WHERE p.admin_id = a.id)
		FROM admins a
		ORDER BY a.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing admins: %w", err)
	}
	defer rows.Close()

	admins := []AdminSummary{}
	for rows.Next() {
		var a AdminSummary
		if err := rows.Scan(
			&a.ID, &a.Email, &a.Name, &a.Role, &a.TwoFactorEnabled, &a.LastLoginAt,
			&a.CreatedAt, &a.UpdatedAt, &a.CarCount, &a.PartCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating admins: %w", err)
	}
	return admins, total, nil
}

func scanAdmin(row pgx.Row) (*Admin, error) {
	a := &Admin{}
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PasswordHash,
		&a.Role,
		&a.TOTPSecret,
		&a.TwoFactorEnabled,
		&a.RecoveryCodes,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, fmt.Errorf("scanning admin: %w", err)
	}
	return a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
