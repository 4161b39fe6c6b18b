// Package car implements car listings: catalog queries, admin CRUD and
// removal of photos a listing no longer references.
package car

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
	"github.com/shopspring/decimal"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/services/listing"
	"github.com/carmarket/api/internal/services/photos"
)

var (
	// ErrNotFound is returned when a car does not exist.
	ErrNotFound = errors.New("car not found")

	// ErrDuplicateVIN is returned when another car already has the VIN.
	ErrDuplicateVIN = errors.New("a car with this VIN already exists")

	// ErrInvalidPrice is returned for negative prices.
	ErrInvalidPrice = errors.New("price must not be negative")
)

// DefaultLimit is the page size used when a list request sets none.
const DefaultLimit = 10

// Car is a car listing.
type Car struct {
	ID           uuid.UUID       `json:"id"`
	Brand        string          `json:"brand"`
	Model        string          `json:"model"`
	Generation   *string         `json:"generation"`
	Year         int             `json:"year"`
	Mileage      int             `json:"mileage"`
	Transmission string          `json:"transmission"`
	Fuel         string          `json:"fuel"`
	Drive        string          `json:"drive"`
	BodyType     string          `json:"bodyType"`
	Color        string          `json:"color"`
	Power        int             `json:"power"`
	EngineVolume float64         `json:"engineVolume"`
	EuroStandard string          `json:"euroStandard"`
	VIN          string          `json:"vin"`
	Condition    string          `json:"condition"`
	Customs      bool            `json:"customs"`
	VAT          bool            `json:"vat"`
	Owners       int             `json:"owners"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Negotiable   bool            `json:"negotiable"`
	City         string          `json:"city"`
	Description  string          `json:"description"`
	Photos       photos.List     `json:"photos"`
	Status       string          `json:"status"`
	Views        int             `json:"views"`
	AdminID      uuid.UUID       `json:"adminId"`
	Admin        *listing.Owner  `json:"admin,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Input is the JSON payload of create and update requests. Absent fields
// are nil; on update they leave the stored value unchanged.
type Input struct {
	Brand        *string          `json:"brand"`
	Model        *string          `json:"model"`
	Generation   *string          `json:"generation"`
	Year         *int             `json:"year"`
	Mileage      *int             `json:"mileage"`
	Transmission *string          `json:"transmission"`
	Fuel         *string          `json:"fuel"`
	Drive        *string          `json:"drive"`
	BodyType     *string          `json:"bodyType"`
	Color        *string          `json:"color"`
	Power        *int             `json:"power"`
	EngineVolume *float64         `json:"engineVolume"`
	EuroStandard *string          `json:"euroStandard"`
	VIN          *string          `json:"vin"`
	Condition    *string          `json:"condition"`
	Customs      *bool            `json:"customs"`
	VAT          *bool            `json:"vat"`
	Owners       *int             `json:"owners"`
	Price        *decimal.Decimal `json:"price"`
	Currency     *string          `json:"currency"`
	Negotiable   *bool            `json:"negotiable"`
	City         *string          `json:"city"`
	Description  *string          `json:"description"`
	Photos       *photos.List     `json:"photos"`
	Status       *string          `json:"status"`
}

// Filter selects cars for List. Empty fields do not filter.
type Filter struct {
	Status string
	Brand  string
	Page   int
	Limit  int
}

// Service provides car listing operations.
type Service struct {
	pool   *pgxpool.Pool
	reaper *photos.Reaper
	logger *slog.Logger
}

// NewService creates a car service. reaper removes photos dropped from a
// listing.
func NewService(pool *pgxpool.Pool, reaper *photos.Reaper, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, reaper: reaper, logger: logger}
}

const selectCar = `
	SELECT c.id, c.brand, c.model, c.generation, c.year, c.mileage, c.transmission,
	       c.fuel, c.drive, c.body_type, c.color, c.power, c.engine_volume,
	       c.euro_standard, c.vin, c.condition, c.customs, c.vat, c.owners,
	       c.price::text, c.currency, c.negotiable, c.city, c.description, c.photos,
	       c.status, c.views, c.admin_id, c.created_at, c.updated_at,
	       a.name, a.email
	FROM cars c
	JOIN admins a ON a.id = c.admin_id`

// List returns cars matching f, newest first, and the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]Car, int, error) {
	_, limit, offset := listing.Page(f.Page, f.Limit, DefaultLimit)

	var status, brand *string
	if f.Status != "" {
		status = &f.Status
	}
	if b := strings.TrimSpace(f.Brand); b != "" {
		p := listing.LikePattern(b)
		brand = &p
	}

	const where = `
	WHERE ($1::text IS NULL OR c.status = $1)
	  AND ($2::text IS NULL OR c.brand ILIKE $2)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM cars c`+where, status, brand).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting cars: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectCar+where+`
	ORDER BY c.created_at DESC
	LIMIT $3 OFFSET $4`, status, brand, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing cars: %w", err)
	}
	defer rows.Close()

	cars := []Car{}
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, 0, err
		}
		cars = append(cars, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating cars: %w", err)
	}
	return cars, total, nil
}

// Get returns a single car by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Car, error) {
	return scanCar(s.pool.QueryRow(ctx, selectCar+` WHERE c.id = $1`, id))
}

// View returns a car for a public page view and counts the view.
func (s *Service) View(ctx context.Context, id uuid.UUID) (*Car, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE cars SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("counting view of car %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Create validates in and inserts a car owned by actor. Cars created
// without photos get the placeholder image.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in Input) (*Car, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	pics := photos.List{photos.Placeholder}
	if in.Photos != nil && len(*in.Photos) > 0 {
		pics = *in.Photos
	}
	status := listing.StatusDraft
	if in.Status != nil {
		status = *in.Status
	}
	owners := 1
	if in.Owners != nil {
		owners = *in.Owners
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cars (
			id, brand, model, generation, year, mileage, transmission, fuel, drive,
			body_type, color, power, engine_volume, euro_standard, vin, condition,
			customs, vat, owners, price, currency, negotiable, city, description,
			photos, status, admin_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20::text::numeric, $21, $22, $23, $24,
			$25, $26, $27, $28, $28
		)
	`,
		id, trim(in.Brand), trim(in.Model), trimOrEmpty(in.Generation), *in.Year, *in.Mileage,
		trim(in.Transmission), trim(in.Fuel), trim(in.Drive),
		trim(in.BodyType), trim(in.Color), *in.Power, *in.EngineVolume, trim(in.EuroStandard),
		strings.ToUpper(trim(in.VIN)), trim(in.Condition),
		boolOr(in.Customs), boolOr(in.VAT), owners, in.Price.String(), trim(in.Currency),
		boolOr(in.Negotiable), trim(in.City), trim(in.Description),
		pics.Encode(), status, actor.AdminID, now,
	)
	if err != nil {
		return nil, mapWriteError(err)
	}

	s.logger.Info("car created",
		slog.String("car_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
		slog.String("vin", strings.ToUpper(trim(in.VIN))),
	)
	return s.Get(ctx, id)
}

// Update applies the fields present in in to the car. The caller must own
// the car or be a superadmin. When the photo list changes, the new list is
// stored exactly as given and photos no longer referenced are then deleted
// from storage; a failed delete never fails the update.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, in Input) (*Car, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(existing.AdminID) {
		return nil, listing.ErrForbidden
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	var price, pics, vin *string
	if in.Price != nil {
		p := in.Price.String()
		price = &p
	}
	if in.Photos != nil {
		p := in.Photos.Encode()
		pics = &p
	}
	if in.VIN != nil {
		v := strings.ToUpper(strings.TrimSpace(*in.VIN))
		vin = &v
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE cars SET
			brand         = COALESCE($2, brand),
			model         = COALESCE($3, model),
			generation    = CASE WHEN $4::text IS NULL THEN generation ELSE NULLIF($4, '') END,
			year          = COALESCE($5, year),
			mileage       = COALESCE($6, mileage),
			transmission  = COALESCE($7, transmission),
			fuel          = COALESCE($8, fuel),
			drive         = COALESCE($9, drive),
			body_type     = COALESCE($10, body_type),
			color         = COALESCE($11, color),
			power         = COALESCE($12, power),
			engine_volume = COALESCE($13, engine_volume),
			euro_standard = COALESCE($14, euro_standard),
			vin           = COALESCE($15, vin),
			condition     = COALESCE($16, condition),
			customs       = COALESCE($17, customs),
			vat           = COALESCE($18, vat),
			owners        = COALESCE($19, owners),
			price         = COALESCE($20::text::numeric, price),
			currency      = COALESCE($21, currency),
			negotiable    = COALESCE($22, negotiable),
			city          = COALESCE($23, city),
			description   = COALESCE($24, description),
			photos        = COALESCE($25, photos),
			status        = COALESCE($26, status),
			updated_at    = $27
		WHERE id = $1
	`,
		id, in.Brand, in.Model, in.Generation, in.Year, in.Mileage, in.Transmission,
		in.Fuel, in.Drive, in.BodyType, in.Color, in.Power, in.EngineVolume,
		in.EuroStandard, vin, in.Condition, in.Customs, in.VAT, in.Owners,
		price, in.Currency, in.Negotiable, in.City, in.Description,
		pics, in.Status, time.Now().UTC(),
	)
	if err != nil {
		return nil, mapWriteError(err)
	}

	s.logger.Info("car updated",
		slog.String("car_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
	)

	if in.Photos != nil {
		if removed := photos.Removed(existing.Photos, *in.Photos); len(removed) > 0 {
			s.reaper.Reap(context.WithoutCancel(ctx), removed)
		}
	}

	return s.Get(ctx, id)
}

// Delete removes the car and then its photos. The caller must own the car
// or be a superadmin.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(existing.AdminID) {
		return listing.ErrForbidden
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM cars WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting car %s: %w", id, err)
	}

	s.logger.Info("car deleted",
		slog.String("car_id", id.String()),
		slog.String("admin_id", actor.AdminID.String()),
	)

	s.reaper.Reap(context.WithoutCancel(ctx), existing.Photos)
	return nil
}

func validateCreate(in Input) error {
	var f listing.Fields
	f.String("brand", in.Brand)
	f.String("model", in.Model)
	f.Present("year", in.Year != nil)
	f.Present("mileage", in.Mileage != nil)
	f.String("transmission", in.Transmission)
	f.String("fuel", in.Fuel)
	f.String("drive", in.Drive)
	f.String("bodyType", in.BodyType)
	f.String("color", in.Color)
	f.Present("power", in.Power != nil)
	f.Present("engineVolume", in.EngineVolume != nil)
	f.String("euroStandard", in.EuroStandard)
	f.String("vin", in.VIN)
	f.String("condition", in.Condition)
	f.Present("price", in.Price != nil)
	f.String("currency", in.Currency)
	f.String("city", in.City)
	f.String("description", in.Description)
	if err := f.Err(); err != nil {
		return err
	}
	return validateValues(in)
}

func validateUpdate(in Input) error {
	var f listing.Fields
	f.BlankString("brand", in.Brand)
	f.BlankString("model", in.Model)
	f.BlankString("transmission", in.Transmission)
	f.BlankString("fuel", in.Fuel)
	f.BlankString("drive", in.Drive)
	f.BlankString("bodyType", in.BodyType)
	f.BlankString("color", in.Color)
	f.BlankString("euroStandard", in.EuroStandard)
	f.BlankString("vin", in.VIN)
	f.BlankString("condition", in.Condition)
	f.BlankString("currency", in.Currency)
	f.BlankString("city", in.City)
	f.BlankString("description", in.Description)
	if err := f.Err(); err != nil {
		return err
	}
	return validateValues(in)
}

func validateValues(in Input) error {
	if in.Status != nil && !listing.ValidStatus(*in.Status) {
		return listing.ErrInvalidStatus
	}
	if in.Price != nil && in.Price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "vin") {
		return ErrDuplicateVIN
	}
	return fmt.Errorf("writing car: %w", err)
}

func scanCar(row pgx.Row) (*Car, error) {
	var (
		c          Car
		price      string
		rawPhotos  string
		ownerName  string
		ownerEmail string
	)
	err := row.Scan(
		&c.ID, &c.Brand, &c.Model, &c.Generation, &c.Year, &c.Mileage, &c.Transmission,
		&c.Fuel, &c.Drive, &c.BodyType, &c.Color, &c.Power, &c.EngineVolume,
		&c.EuroStandard, &c.VIN, &c.Condition, &c.Customs, &c.VAT, &c.Owners,
		&price, &c.Currency, &c.Negotiable, &c.City, &c.Description, &rawPhotos,
		&c.Status, &c.Views, &c.AdminID, &c.CreatedAt, &c.UpdatedAt,
		&ownerName, &ownerEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning car: %w", err)
	}

	c.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", price, err)
	}
	c.Photos = photos.Decode(rawPhotos)
	c.Admin = &listing.Owner{ID: c.AdminID, Name: ownerName, Email: ownerEmail}
	return &c, nil
}

func trim(s *string) string {
	return strings.TrimSpace(*s)
}

func trimOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func boolOr(b *bool) bool {
	return b != nil && *b
}
