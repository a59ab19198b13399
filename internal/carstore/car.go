package carstore

import (
	"fmt"
	"strings"

	"github.com/carthingy/carthingy/internal/query/model"
)

// Car is a tracked car as stored by the car storage service.
type Car struct {
	LicensePlate string `json:"license_plate" yaml:"license_plate"`
	BrandID      int    `json:"brand_id" yaml:"brand_id"`
	Brand        string `json:"brand" yaml:"brand"`
	Model        string `json:"model" yaml:"model"`
	Codename     string `json:"codename" yaml:"codename"`
	Year         int    `json:"year" yaml:"year"`
	Comment      string `json:"comment" yaml:"comment"`
	IsNew        Flag   `json:"is_new" yaml:"is_new"`
}

// Brand is one entry of the brand catalogue.
type Brand struct {
	ID   int    `json:"brand_id" yaml:"brand_id"`
	Name string `json:"brand" yaml:"brand"`
}

// Flag is a boolean sent as 0 or 1.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "1", "true", `"1"`, `"true"`:
		*f = true
	case "0", "false", `"0"`, `"false"`, "null", `""`:
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", data)
	}
	return nil
}

// FromRecord maps a completed VehicleRecord to a Car.
// known marks a car that was already tracked before the query.
// Unknown text fields become empty and unknown numbers zero.
func FromRecord(rec model.VehicleRecord, known bool) Car {
	text := func(v string) string {
		if model.IsUnknown(v) {
			return ""
		}
		return v
	}
	number := func(v int) int {
		if v == model.UnknownNumber {
			return 0
		}
		return v
	}

	return Car{
		LicensePlate: model.NormalizePlate(text(rec.LicensePlate)),
		Brand:        text(rec.Brand),
		Model:        text(rec.Model),
		Codename:     text(rec.TypeCode),
		Year:         number(rec.Year),
		IsNew:        Flag(!known),
	}
}

// LookupBrand returns the ID of the brand named name, ignoring case.
func LookupBrand(brands []Brand, name string) (int, bool) {
	for _, b := range brands {
		if strings.EqualFold(strings.TrimSpace(b.Name), strings.TrimSpace(name)) {
			return b.ID, true
		}
	}
	return 0, false
}
