// Package aggregator folds decoded session messages into a VehicleRecord.
package aggregator

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/carthingy/carthingy/internal/query/codec"
	"github.com/carthingy/carthingy/internal/query/model"
)

const (
	minPercentage = 0
	maxPercentage = 100
)

// Apply folds msg into rec and returns the updated record.
//
// rec is never mutated: list fields are copied before appending. Messages that
// carry no record data (progress, log, error, done) return rec unchanged.
// Problems with the message are returned as *model.ProtocolViolation values;
// they are diagnostics only and the returned record is always usable.
func Apply(rec model.VehicleRecord, msg model.SessionMessage) (model.VehicleRecord, []error) {
	switch msg.Kind {
	case model.KindFieldUpdate:
		return applyField(rec, msg.Key, msg.Value)
	case model.KindListAppend:
		return applyListEntry(rec, msg)
	}
	return rec, nil
}

// Progress returns the percentage to show after the backend reported reported.
// Values are clamped to [0,100]; a regression or a non-finite value keeps current and yields a violation.
func Progress(current, reported float64) (float64, error) {
	if math.IsNaN(reported) || math.IsInf(reported, 0) {
		return current, &model.ProtocolViolation{Detail: fmt.Sprintf("progress %v is not a finite number", reported)}
	}
	next := min(max(reported, minPercentage), maxPercentage)
	if next < current {
		return current, &model.ProtocolViolation{
			Detail: fmt.Sprintf("progress regressed from %.1f%% to %.1f%%", current, reported),
		}
	}
	return next, nil
}

func applyField(rec model.VehicleRecord, key, value string) (model.VehicleRecord, []error) {
	if p := rec.TextField(key); p != nil {
		if model.IsUnknown(value) {
			return rec, nil
		}
		v := strings.TrimSpace(value)
		if key == model.FieldLicensePlate {
			v = model.NormalizePlate(v)
		}
		*p = v
		return rec, nil
	}

	if p := rec.NumberField(key); p != nil {
		if model.IsUnknown(value) {
			return rec, nil
		}
		n, err := codec.ParseNumber(value)
		if err != nil {
			return rec, []error{&model.ProtocolViolation{Detail: fmt.Sprintf("field %s: %v", key, err)}}
		}
		*p = n
		return rec, nil
	}

	return rec, []error{&model.ProtocolViolation{Detail: fmt.Sprintf("unknown field key %q", key)}}
}

func applyListEntry(rec model.VehicleRecord, msg model.SessionMessage) (model.VehicleRecord, []error) {
	mismatch := func() []error {
		return []error{&model.ProtocolViolation{
			Detail: fmt.Sprintf("%s entry has unexpected type %T", msg.Key, msg.Entry),
		}}
	}

	switch msg.Key {
	case model.ListRestriction:
		v, ok := msg.Entry.(string)
		if !ok {
			return rec, mismatch()
		}
		if model.IsUnknown(v) {
			return rec, nil
		}
		rec.Restrictions = append(slices.Clip(rec.Restrictions), v)

	case model.ListAccident:
		v, ok := msg.Entry.(model.AccidentEntry)
		if !ok {
			return rec, mismatch()
		}
		rec.Accidents = append(slices.Clip(rec.Accidents), v)

	case model.ListInspection:
		v, ok := msg.Entry.(model.InspectionEntry)
		if !ok {
			return rec, mismatch()
		}
		rec.Inspections = append(slices.Clip(rec.Inspections), v)

	case model.ListMileage:
		v, ok := msg.Entry.(model.MileageEntry)
		if !ok {
			return rec, mismatch()
		}
		rec.Mileage = append(slices.Clip(rec.Mileage), v)

	default:
		return rec, []error{&model.ProtocolViolation{Detail: fmt.Sprintf("unknown list category %q", msg.Key)}}
	}

	return rec, nil
}
