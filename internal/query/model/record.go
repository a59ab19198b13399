package model

import (
	"strings"
)

const (
	// Unknown is the sentinel carried by text fields the backend has not reported yet.
	Unknown = "unknown"

	// UnknownNumber is the sentinel carried by numeric fields the backend has not reported yet.
	UnknownNumber = -1
)

// Field keys as they appear on the wire.
const (
	FieldLicensePlate  = "license_plate"
	FieldBrand         = "brand"
	FieldModel         = "model"
	FieldTypeCode      = "type_code"
	FieldStatus        = "status"
	FieldFirstReg      = "first_reg"
	FieldFirstRegLocal = "first_reg_hun"
	FieldOwnerCount    = "num_of_owners"
	FieldYear          = "year"
	FieldEngineSize    = "engine_size"
	FieldHorsepower    = "performance"
	FieldFuelType      = "fuel_type"
	FieldGearbox       = "gearbox"
	FieldColor         = "color"

	// List categories. Entries are appended, never replaced.
	ListRestriction = "restriction"
	ListAccident    = "accident"
	ListInspection  = "inspection"
	ListMileage     = "mileage"
)

// MileageEntry is one odometer reading.
type MileageEntry struct {
	Date  string `json:"date"`
	Value int    `json:"mileage"`
}

// AccidentEntry is one accident the vehicle was involved in.
type AccidentEntry struct {
	Date string `json:"accident_date"`
	Role string `json:"role"`
}

// InspectionEntry is one technical inspection, images are references (URLs or object keys).
type InspectionEntry struct {
	Name   string   `json:"name"`
	Date   string   `json:"date,omitempty"`
	Images []string `json:"images,omitempty"`
}

// VehicleRecord is the aggregated result of a query session.
type VehicleRecord struct {
	LicensePlate     string `json:"license_plate"`
	Brand            string `json:"brand"`
	Model            string `json:"model"`
	TypeCode         string `json:"type_code"`
	Status           string `json:"status"`
	FirstReg         string `json:"first_reg"`
	FirstRegDomestic string `json:"first_reg_hun"`
	FuelType         string `json:"fuel_type"`
	Gearbox          string `json:"gearbox"`
	Color            string `json:"color"`

	OwnerCount int `json:"num_of_owners"`
	Year       int `json:"year"`
	EngineSize int `json:"engine_size"`
	Horsepower int `json:"performance"`

	Mileage      []MileageEntry    `json:"mileage"`
	Restrictions []string          `json:"restrictions"`
	Accidents    []AccidentEntry   `json:"accidents"`
	Inspections  []InspectionEntry `json:"inspections"`
}

// NewVehicleRecord returns a record with every field set to its unknown sentinel.
func NewVehicleRecord() VehicleRecord {
	return VehicleRecord{
		LicensePlate:     Unknown,
		Brand:            Unknown,
		Model:            Unknown,
		TypeCode:         Unknown,
		Status:           Unknown,
		FirstReg:         Unknown,
		FirstRegDomestic: Unknown,
		FuelType:         Unknown,
		Gearbox:          Unknown,
		Color:            Unknown,
		OwnerCount:       UnknownNumber,
		Year:             UnknownNumber,
		EngineSize:       UnknownNumber,
		Horsepower:       UnknownNumber,
		Mileage:          []MileageEntry{},
		Restrictions:     []string{},
		Accidents:        []AccidentEntry{},
		Inspections:      []InspectionEntry{},
	}
}

// Clone returns a deep copy so snapshots handed to observers never alias live slices.
func (r VehicleRecord) Clone() VehicleRecord {
	out := r
	out.Mileage = append([]MileageEntry{}, r.Mileage...)
	out.Restrictions = append([]string{}, r.Restrictions...)
	out.Accidents = append([]AccidentEntry{}, r.Accidents...)
	out.Inspections = make([]InspectionEntry, len(r.Inspections))
	for i, in := range r.Inspections {
		in.Images = append([]string(nil), in.Images...)
		out.Inspections[i] = in
	}
	return out
}

// TextField returns a pointer to the text field addressed by key, or nil.
func (r *VehicleRecord) TextField(key string) *string {
	switch key {
	case FieldLicensePlate:
		return &r.LicensePlate
	case FieldBrand:
		return &r.Brand
	case FieldModel:
		return &r.Model
	case FieldTypeCode:
		return &r.TypeCode
	case FieldStatus:
		return &r.Status
	case FieldFirstReg:
		return &r.FirstReg
	case FieldFirstRegLocal:
		return &r.FirstRegDomestic
	case FieldFuelType:
		return &r.FuelType
	case FieldGearbox:
		return &r.Gearbox
	case FieldColor:
		return &r.Color
	}
	return nil
}

// NumberField returns a pointer to the numeric field addressed by key, or nil.
func (r *VehicleRecord) NumberField(key string) *int {
	switch key {
	case FieldOwnerCount:
		return &r.OwnerCount
	case FieldYear:
		return &r.Year
	case FieldEngineSize:
		return &r.EngineSize
	case FieldHorsepower:
		return &r.Horsepower
	}
	return nil
}

// IsUnknown reports whether a wire value means "not known".
func IsUnknown(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, Unknown) || v == "-" || strings.EqualFold(v, "n/a")
}

// IsListCategory reports whether key names an append-only list.
func IsListCategory(key string) bool {
	switch key {
	case ListRestriction, ListAccident, ListInspection, ListMileage:
		return true
	}
	return false
}

// CanonicalKey folds plural and dash-separated aliases onto the wire field keys.
func CanonicalKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "_")
	switch key {
	case "restrictions":
		return ListRestriction
	case "accidents":
		return ListAccident
	case "inspections":
		return ListInspection
	case "mileages":
		return ListMileage
	case "horsepower":
		return FieldHorsepower
	case "owners", "owner_count":
		return FieldOwnerCount
	case "plate":
		return FieldLicensePlate
	}
	return key
}
