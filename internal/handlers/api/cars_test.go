package api_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/carmarket/api/internal/auth"
)

func carBody() map[string]any {
	return map[string]any{
		"brand":        "Volkswagen",
		"model":        "Golf",
		"year":         2018,
		"mileage":      92000,
		"transmission": "manual",
		"fuel":         "petrol",
		"drive":        "fwd",
		"bodyType":     "hatchback",
		"color":        "blue",
		"power":        150,
		"engineVolume": 1.5,
		"euroStandard": "Euro 6",
		"vin":          "WVWZZZAUZJW000001",
		"condition":    "used",
		"price":        14990.5,
		"currency":     "EUR",
		"city":         "Munich",
		"description":  "One owner, full service history.",
	}
}

type carJSON struct {
	ID     uuid.UUID `json:"id"`
	Brand  string    `json:"brand"`
	VIN    string    `json:"vin"`
	Photos []string  `json:"photos"`
	Status string    `json:"status"`
	Views  int       `json:"views"`
	Admin  *struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	} `json:"admin"`
}

func TestCarCreate(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)
	token := tokenFor(t, owner)

	rr := e.do(t, http.MethodPost, "/api/cars", token, carBody())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body)
	}
	resp := decode[struct {
		Message string  `json:"message"`
		Car     carJSON `json:"car"`
	}](t, rr)
	if resp.Message == "" || resp.Car.Brand != "Volkswagen" || resp.Car.Status != "draft" {
		t.Errorf("response: %+v", resp)
	}
	if resp.Car.Admin == nil || resp.Car.Admin.ID != owner.ID {
		t.Errorf("owner: %+v", resp.Car.Admin)
	}
	if len(resp.Car.Photos) != 1 || resp.Car.Photos[0] != "/placeholder.jpg" {
		t.Errorf("photos: %v", resp.Car.Photos)
	}

	if rr := e.do(t, http.MethodPost, "/api/cars", token, carBody()); rr.Code != http.StatusConflict {
		t.Errorf("duplicate VIN: got %d", rr.Code)
	}
}

func TestCarCreate_Errors(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	token := tokenFor(t, testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin))

	missing := carBody()
	delete(missing, "brand")
	delete(missing, "vin")
	rr := e.do(t, http.MethodPost, "/api/cars", token, missing)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: got %d", rr.Code)
	}
	resp := decode[struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}](t, rr)
	if len(resp.Fields) != 2 || resp.Fields[0] != "brand" || resp.Fields[1] != "vin" {
		t.Errorf("fields: %v (%s)", resp.Fields, resp.Error)
	}

	negative := carBody()
	negative["price"] = -1
	if rr := e.do(t, http.MethodPost, "/api/cars", token, negative); rr.Code != http.StatusBadRequest {
		t.Errorf("negative price: got %d", rr.Code)
	}

	badStatus := carBody()
	badStatus["status"] = "hidden"
	if rr := e.do(t, http.MethodPost, "/api/cars", token, badStatus); rr.Code != http.StatusBadRequest {
		t.Errorf("bad status: got %d", rr.Code)
	}

	if rr := e.do(t, http.MethodPost, "/api/cars", "", carBody()); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: got %d", rr.Code)
	}
}

func TestCarList(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)
	testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000001", nil)
	testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000002", nil)
	testDB.FixtureCar(t, owner.ID, "Audi", "VIN0000000000003", nil)

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantPage  int
		wantLimit int
		wantTotal int
		wantPages int
	}{
		{"defaults", "", 3, 1, 10, 3, 1},
		{"brand substring", "?brand=bm", 2, 1, 10, 2, 1},
		{"paged", "?limit=2&page=2", 1, 2, 2, 3, 2},
		{"status", "?status=draft", 0, 1, 10, 0, 0},
		{"garbage paging", "?page=x&limit=-3", 3, 1, 10, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodGet, "/api/cars"+tt.query, "", nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d", rr.Code)
			}
			resp := decode[struct {
				Cars       []carJSON `json:"cars"`
				Pagination struct {
					Page, Limit, Total, Pages int
				} `json:"pagination"`
			}](t, rr)
			p := resp.Pagination
			if len(resp.Cars) != tt.wantCount || p.Page != tt.wantPage || p.Limit != tt.wantLimit ||
				p.Total != tt.wantTotal || p.Pages != tt.wantPages {
				t.Errorf("got %d cars, pagination %+v", len(resp.Cars), p)
			}
			if resp.Cars == nil {
				t.Error("cars should be an empty array, not null")
			}
		})
	}
}

func TestCarGet(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)
	id := testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000001", nil)

	for want := 1; want <= 2; want++ {
		rr := e.do(t, http.MethodGet, "/api/cars/"+id.String(), "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status: got %d", rr.Code)
		}
		if c := decode[carJSON](t, rr); c.Views != want || c.Admin == nil || c.Admin.Email != owner.Email {
			t.Errorf("view %d: got %+v", want, c)
		}
	}

	for _, path := range []string{"/api/cars/" + uuid.NewString(), "/api/cars/not-a-uuid"} {
		if rr := e.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d", path, rr.Code)
		}
	}
}

func TestCarUpdate_Photos(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)
	token := tokenFor(t, owner)
	a, b, c := "cars/x/a.jpg", "cars/x/b.jpg", "cars/x/c.jpg"
	for _, k := range []string{a, b, c} {
		e.store.Seed(k, jpegBytes, "image/jpeg")
	}
	id := testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000001", []string{a, b})

	rr := e.do(t, http.MethodPut, "/api/cars/"+id.String(), token, map[string]any{
		"photos": []string{b, c},
		"city":   "Leipzig",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body)
	}
	if e.store.Has(a) || !e.store.Has(b) || !e.store.Has(c) {
		t.Errorf("store: %v", e.store.Keys())
	}
	if raw := testDB.RawPhotos(t, "cars", id); raw != `["cars/x/b.jpg","cars/x/c.jpg"]` {
		t.Errorf("persisted photos: %s", raw)
	}

	rr = e.do(t, http.MethodPatch, "/api/cars/"+id.String(), token, map[string]any{"photos": []string{}})
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: got %d", rr.Code)
	}
	if raw := testDB.RawPhotos(t, "cars", id); raw != "[]" {
		t.Errorf("cleared photos: %s", raw)
	}
	if e.store.Has(b) || e.store.Has(c) {
		t.Errorf("removed photos should be deleted: %v", e.store.Keys())
	}
}

func TestCarUpdateDelete_Access(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "owner@example.com", auth.RoleAdmin)
	other := testDB.FixtureAdmin(t, "other@example.com", auth.RoleAdmin)
	root := testDB.FixtureAdmin(t, "root@example.com", auth.RoleSuperadmin)
	e.store.Seed("cars/x/a.jpg", jpegBytes, "image/jpeg")
	id := testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000001", []string{"cars/x/a.jpg"})
	path := "/api/cars/" + id.String()

	if rr := e.do(t, http.MethodPut, "/api/cars/"+uuid.NewString(), tokenFor(t, owner), map[string]any{"photos": []string{}}); rr.Code != http.StatusNotFound {
		t.Errorf("update missing: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPut, path, tokenFor(t, other), map[string]any{"city": "X"}); rr.Code != http.StatusForbidden {
		t.Errorf("update by other: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, path, tokenFor(t, other), nil); rr.Code != http.StatusForbidden {
		t.Errorf("delete by other: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPut, path, "", map[string]any{"city": "X"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous update: got %d", rr.Code)
	}
	if !e.store.Has("cars/x/a.jpg") {
		t.Fatal("rejected requests must not touch storage")
	}

	if rr := e.do(t, http.MethodDelete, path, tokenFor(t, root), nil); rr.Code != http.StatusOK {
		t.Fatalf("delete by superadmin: got %d", rr.Code)
	}
	if e.store.Has("cars/x/a.jpg") {
		t.Error("photos should be deleted with the car")
	}
	if rr := e.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", rr.Code)
	}
}
