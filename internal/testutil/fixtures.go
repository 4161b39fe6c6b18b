package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// FixturePassword is the password of every fixture admin.
const FixturePassword = "fixture-password"

// Admin is a fixture admin row.
type Admin struct {
	ID    uuid.UUID
	Email string
	Role  string
}

// FixtureAdmin inserts an admin with FixturePassword and returns it.
func (tdb *TestDB) FixtureAdmin(t *testing.T, email, role string) Admin {
	t.Helper()

	// MinCost keeps fixtures fast; login still verifies against it.
	hash, err := bcrypt.GenerateFromPassword([]byte(FixturePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing fixture password: %v", err)
	}

	a := Admin{ID: uuid.New(), Email: email, Role: role}
	_, err = tdb.Pool.Exec(context.Background(), `
		INSERT INTO admins (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, email, "Fixture "+role, string(hash), role)
	if err != nil {
		t.Fatalf("creating fixture admin %q: %v", email, err)
	}
	return a
}

// FixtureCar inserts a published car owned by adminID with the given
// photos and returns its ID.
func (tdb *TestDB) FixtureCar(t *testing.T, adminID uuid.UUID, brand, vin string, photos []string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := tdb.Pool.Exec(context.Background(), `
		INSERT INTO cars (
			id, brand, model, year, mileage, transmission, fuel, drive, body_type,
			color, power, engine_volume, euro_standard, vin, condition, price,
			currency, city, description, photos, status, admin_id, created_at, updated_at
		) VALUES (
			$1, $2, 'Model', 2019, 85000, 'automatic', 'diesel', 'awd', 'sedan',
			'black', 190, 2.0, 'Euro 6', $3, 'used', 18500.00,
			'EUR', 'Berlin', 'Fixture car', $4, 'published', $5, $6, $6
		)
	`, id, brand, vin, encodePhotos(photos), adminID, time.Now().UTC())
	if err != nil {
		t.Fatalf("creating fixture car %q: %v", vin, err)
	}
	return id
}

// FixturePart inserts a published part owned by adminID and returns its ID.
func (tdb *TestDB) FixturePart(t *testing.T, adminID uuid.UUID, name, category string, photos []string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := tdb.Pool.Exec(context.Background(), `
		INSERT INTO parts (
			id, name, brand, model, category, condition, price, currency, city,
			description, photos, status, admin_id, created_at, updated_at
		) VALUES (
			$1, $2, 'BMW', '3 Series', $3, 'used', 120.00, 'EUR', 'Berlin',
			'Fixture part', $4, 'published', $5, $6, $6
		)
	`, id, name, category, encodePhotos(photos), adminID, time.Now().UTC())
	if err != nil {
		t.Fatalf("creating fixture part %q: %v", name, err)
	}
	return id
}

// RawPhotos returns the persisted photos column of a row in table.
func (tdb *TestDB) RawPhotos(t *testing.T, table string, id uuid.UUID) string {
	t.Helper()

	var raw string
	if err := tdb.Pool.QueryRow(context.Background(), `SELECT photos FROM `+table+` WHERE id = $1`, id).Scan(&raw); err != nil {
		t.Fatalf("reading photos of %s %s: %v", table, id, err)
	}
	return raw
}

func encodePhotos(photos []string) string {
	if photos == nil {
		return "[]"
	}
	b, _ := json.Marshal(photos)
	return string(b)
}
