// Package part implements spare-part listings.
package part

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/services/listing"
	"github.com/carmarket/api/internal/services/photos"
)

var (
	// ErrNotFound is returned when a part does not exist.
	ErrNotFound = errors.New("part not found")

	// ErrInvalidCondition is returned for conditions other than new, used and refurbished.
	ErrInvalidCondition = errors.New("condition must be one of new, used, refurbished")

	// ErrInvalidYearRange is returned when yearFrom is after yearTo.
	ErrInvalidYearRange = errors.New("yearFrom must not be after yearTo")

	// ErrInvalidPrice is returned for negative prices.
	ErrInvalidPrice = errors.New("price must not be negative")
)

// DefaultLimit is the page size used when a list request sets none.
const DefaultLimit = 12

// Part is a spare-part listing.
type Part struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Model       string          `json:"model"`
	YearFrom    *int            `json:"yearFrom"`
	YearTo      *int            `json:"yearTo"`
	Category    string          `json:"category"`
	Condition   string          `json:"condition"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Negotiable  bool            `json:"negotiable"`
	City        string          `json:"city"`
	Description string          `json:"description"`
	Photos      photos.List     `json:"photos"`
	Status      string          `json:"status"`
	Views       int             `json:"views"`
	AdminID     uuid.UUID       `json:"adminId"`
	Admin       *listing.Owner  `json:"admin,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Input is the JSON payload of create and update requests.
type Input struct {
	Name        *string          `json:"name"`
	Brand       *string          `json:"brand"`
	Model       *string          `json:"model"`
	YearFrom    *int             `json:"yearFrom"`
	YearTo      *int             `json:"yearTo"`
	Category    *string          `json:"category"`
	Condition   *string          `json:"condition"`
	Price       *decimal.Decimal `json:"price"`
	Currency    *string          `json:"currency"`
	Negotiable  *bool            `json:"negotiable"`
	City        *string          `json:"city"`
	Description *string          `json:"description"`
	Photos      *photos.List     `json:"photos"`
	Status      *string          `json:"status"`
}

// Filter selects parts for List. Status defaults to published.
type Filter struct {
	Status    string
	Category  string
	Brand     string
	Model     string
	Condition string
	Page      int
	Limit     int
}

// Service provides part listing operations.
type Service struct {
	pool   *pgxpool.Pool
	reaper *photos.Reaper
	logger *slog.Logger
}

// NewService creates a part service.
func NewService(pool *pgxpool.Pool, reaper *photos.Reaper, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, reaper: reaper, logger: logger}
}

const selectPart = `
	SELECT p.id, p.name, p.brand, p.model, p.year_from, p.year_to, p.category,
	       p.condition, p.price::text, p.currency, p.negotiable, p.city,
	       p.description, p.photos, p.status, p.views, p.admin_id,
	       p.created_at, p.updated_at, a.name, a.email
	FROM parts p
	JOIN admins a ON a.id = p.admin_id`

// List returns parts matching f, newest first, and the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]Part, int, error) {
	_, limit, offset := listing.Page(f.Page, f.Limit, DefaultLimit)

	status := f.Status
	if status == "" {
		status = listing.StatusPublished
	}
	args := []any{status, optional(f.Category), likeOrNil(f.Brand), likeOrNil(f.Model), optional(f.Condition)}

	const where = `
	WHERE p.status = $1
	  AND ($2::text IS NULL OR p.category = $2)
	  AND ($3::text IS NULL OR p.brand ILIKE $3)
	  AND ($4::text IS NULL OR p.model ILIKE $4)
	  AND ($5::text IS NULL OR p.condition = $5)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM parts p`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting parts: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectPart+where+`
	ORDER BY p.created_at DESC
	LIMIT $6 OFFSET $7`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing parts: %w", err)
	}
	defer rows.Close()

	parts := []Part{}
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, 0, err
		}
		parts = append(parts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating parts: %w", err)
	}
	return parts, total, nil
}

// Get returns a single part by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Part, error) {
	return scanPart(s.pool.QueryRow(ctx, selectPart+` WHERE p.id = $1`, id))
}

// View returns a part for a public page view and counts the view.
func (s *Service) View(ctx context.Context, id uuid.UUID) (*Part, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE parts SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("counting view of part %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Create validates in and inserts a part owned by actor.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (*Part, error) {
	var f listing.Fields
	f.String("name", in.Name)
	f.String("brand", in.Brand)
	f.String("model", in.Model)
	f.String("category", in.Category)
	f.String("condition", in.Condition)
	f.Present("price", in.Price != nil)
	f.String("currency", in.Currency)
	f.String("city", in.City)
	f.String("description", in.Description)
	if err := f.Err(); err != nil {
		return nil, err
	}
	if err := validateValues(in, nil, nil); err != nil {
		return nil, err
	}

	pics := photos.List{}
	if in.Photos != nil {
		pics = *in.Photos
	}
	status := listing.StatusDraft
	if in.Status != nil {
		status = *in.Status
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parts (
			id, name, brand, model, year_from, year_to, category, condition,
			price, currency, negotiable, city, description, photos, status,
			admin_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9::text::numeric, $10, $11, $12, $13, $14, $15,
			$16, $17, $17
		)
	`,
		id, trim(in.Name), trim(in.Brand), trim(in.Model), in.YearFrom, in.YearTo,
		trim(in.Category), trim(in.Condition), in.Price.String(), trim(in.Currency),
		in.Negotiable != nil && *in.Negotiable, trim(in.City), trim(in.Description),
		pics.Encode(), status, actor.AdminID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting part: %w", err)
	}

	s.logger.Info("part created",
		slog.String("part_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
	)
	return s.Get(ctx, id)
}

// Update applies the fields present in in. Photo handling matches cars:
// the list is stored as given, then dropped photos are deleted.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, in Input) (*Part, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(existing.AdminID) {
		return nil, listing.ErrForbidden
	}

	var f listing.Fields
	f.BlankString("name", in.Name)
	f.BlankString("brand", in.Brand)
	f.BlankString("model", in.Model)
	f.BlankString("category", in.Category)
	f.BlankString("condition", in.Condition)
	f.BlankString("currency", in.Currency)
	f.BlankString("city", in.City)
	f.BlankString("description", in.Description)
	if err := f.Err(); err != nil {
		return nil, err
	}
	if err := validateValues(in, existing.YearFrom, existing.YearTo); err != nil {
		return nil, err
	}

	var price, pics *string
	if in.Price != nil {
		p := in.Price.String()
		price = &p
	}
	if in.Photos != nil {
		p := in.Photos.Encode()
		pics = &p
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE parts SET
			name        = COALESCE($2, name),
			brand       = COALESCE($3, brand),
			model       = COALESCE($4, model),
			year_from   = COALESCE($5, year_from),
			year_to     = COALESCE($6, year_to),
			category    = COALESCE($7, category),
			condition   = COALESCE($8, condition),
			price       = COALESCE($9::text::numeric, price),
			currency    = COALESCE($10, currency),
			negotiable  = COALESCE($11, negotiable),
			city        = COALESCE($12, city),
			description = COALESCE($13, description),
			photos      = COALESCE($14, photos),
			status      = COALESCE($15, status),
			updated_at  = $16
		WHERE id = $1
	`,
		id, in.Name, in.Brand, in.Model, in.YearFrom, in.YearTo, in.Category,
		in.Condition, price, in.Currency, in.Negotiable, in.City, in.Description,
		pics, in.Status, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("updating part %s: %w", id, err)
	}

	s.logger.Info("part updated",
		slog.String("part_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
	)

	if in.Photos != nil {
		if removed := photos.Removed(existing.Photos, *in.Photos); len(removed) > 0 {
			s.reaper.Reap(context.WithoutCancel(ctx), removed)
		}
	}

	return s.Get(ctx, id)
}

// Delete removes the part and then its photos.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(existing.AdminID) {
		return listing.ErrForbidden
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM parts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting part %s: %w", id, err)
	}

	s.logger.Info("part deleted",
		slog.String("part_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
	)

	s.reaper.Reap(context.WithoutCancel(ctx), existing.Photos)
	return nil
}

// validateValues checks enumerations and ranges. yearFrom and yearTo are
// the stored values an update leaves in place.
func validateValues(in Input, yearFrom, yearTo *int) error {
	if in.Status != nil && !listing.ValidStatus(*in.Status) {
		return listing.ErrInvalidStatus
	}
	if in.Condition != nil && !validCondition(strings.TrimSpace(*in.Condition)) {
		return ErrInvalidCondition
	}
	if in.Price != nil && in.Price.IsNegative() {
		return ErrInvalidPrice
	}

	if in.YearFrom != nil {
		yearFrom = in.YearFrom
	}
	if in.YearTo != nil {
		yearTo = in.YearTo
	}
	if yearFrom != nil && yearTo != nil && *yearFrom > *yearTo {
		return ErrInvalidYearRange
	}
	return nil
}

func validCondition(c string) bool {
	switch c {
	case "new", "used", "refurbished":
		return true
	}
	return false
}

func scanPart(row pgx.Row) (*Part, error) {
	var (
		p          Part
		price      string
		rawPhotos  string
		ownerName  string
		ownerEmail string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Brand, &p.Model, &p.YearFrom, &p.YearTo, &p.Category,
		&p.Condition, &price, &p.Currency, &p.Negotiable, &p.City,
		&p.Description, &rawPhotos, &p.Status, &p.Views, &p.AdminID,
		&p.CreatedAt, &p.UpdatedAt, &ownerName, &ownerEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning part: %w", err)
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", price, err)
	}
	p.Photos = photos.Decode(rawPhotos)
	p.Admin = &listing.Owner{ID: p.AdminID, Name: ownerName, Email: ownerEmail}
	return &p, nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func likeOrNil(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	p := listing.LikePattern(s)
	return &p
}

func trim(s *string) string {
	return strings.TrimSpace(*s)
}
