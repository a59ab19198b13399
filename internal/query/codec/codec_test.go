package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/internal/query/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want model.SessionMessage
	}{
		{"progress verb", "PROGRESS 10", model.SessionMessage{Kind: model.KindProgress, Percentage: 10}},
		{"progress verb with colon", "PROGRESS: 42.5%", model.SessionMessage{Kind: model.KindProgress, Percentage: 42.5}},
		{"bare percentage", "55%", model.SessionMessage{Kind: model.KindProgress, Percentage: 55}},
		{"bare number", "70", model.SessionMessage{Kind: model.KindProgress, Percentage: 70}},
		{"done", "DONE", model.SessionMessage{Kind: model.KindDone}},
		{"end alias", "  END\r\n", model.SessionMessage{Kind: model.KindDone}},
		{"finished alias", "FINISHED", model.SessionMessage{Kind: model.KindDone}},
		{"error with colon", "ERROR: plate not found", model.SessionMessage{Kind: model.KindError, Text: "plate not found"}},
		{"error without reason", "ERROR", model.SessionMessage{Kind: model.KindError, Text: unspecifiedBackendError}},
		{"log verb", "LOG fetching inspections", model.SessionMessage{Kind: model.KindLog, Text: "fetching inspections"}},
		{"field update", "brand: Toyota", model.SessionMessage{Kind: model.KindFieldUpdate, Key: model.FieldBrand, Value: "Toyota"}},
		{"field alias", "horsepower: 110 HP", model.SessionMessage{Kind: model.KindFieldUpdate, Key: model.FieldHorsepower, Value: "110 HP"}},
		{"dashed key", "first-reg: 2015.03.01", model.SessionMessage{Kind: model.KindFieldUpdate, Key: model.FieldFirstReg, Value: "2015.03.01"}},
		{"free text", "Looking up registry", model.SessionMessage{Kind: model.KindLog, Text: "Looking up registry"}},
		{"garbage", "###garbage###", model.SessionMessage{Kind: model.KindLog, Text: "###garbage###"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			require.NoError(t, err)
			got.Raw = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_ListEntries(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		key   string
		entry any
	}{
		{"restriction", "restriction: seized", model.ListRestriction, "seized"},
		{"plural restriction", "restrictions: seized", model.ListRestriction, "seized"},
		{"mileage pair", "mileage: 2020.05.01=123 456 km", model.ListMileage, model.MileageEntry{Date: "2020.05.01", Value: 123456}},
		{"mileage json", `mileage: {"date":"2021.01.01","mileage":150000}`, model.ListMileage, model.MileageEntry{Date: "2021.01.01", Value: 150000}},
		{"accident pipe", "accident: 2019.02.03|at fault", model.ListAccident, model.AccidentEntry{Date: "2019.02.03", Role: "at fault"}},
		{"accident json", `accidents: {"accident_date":"2018","role":"victim"}`, model.ListAccident, model.AccidentEntry{Date: "2018", Role: "victim"}},
		{"inspection name", "inspection: MOT", model.ListInspection, model.InspectionEntry{Name: "MOT"}},
		{
			"inspection json",
			`inspection: {"name":"MOT","date":"2022.04.01","images":["a.jpg"]}`,
			model.ListInspection,
			model.InspectionEntry{Name: "MOT", Date: "2022.04.01", Images: []string{"a.jpg"}},
		},
		{"explicit append", "+note: scratched", "note", "scratched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, model.KindListAppend, got.Kind)
			assert.Equal(t, tt.key, got.Key)
			assert.Equal(t, tt.entry, got.Entry)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, line := range []string{
		"PROGRESS abc",
		"mileage: yesterday",
		`accident: {"accident_date":1}`,
		"restriction:",
		"PROGRESS NaN",
		"PROGRESS: Inf",
		"PROGRESS -Inf%",
	} {
		t.Run(line, func(t *testing.T) {
			msg, err := Decode(line)
			require.Error(t, err)

			var perr *model.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, line, perr.Line)
			assert.Equal(t, model.KindLog, msg.Kind)
			assert.Equal(t, line, msg.Text)
		})
	}
}

func TestEncodeDecodeQuery(t *testing.T) {
	line, err := EncodeQuery(model.Query{Identifier: "ABC-123", Known: true})
	require.NoError(t, err)
	assert.Equal(t, "QUERY KNOWN PLATE ABC123", line)

	q, err := DecodeQuery(line)
	require.NoError(t, err)
	assert.Equal(t, model.Query{Identifier: "ABC123", Known: true}, q)

	line, err = EncodeQuery(model.Query{Identifier: "  Toyota   Corolla  ", FreeText: true})
	require.NoError(t, err)
	assert.Equal(t, "QUERY NEW TEXT Toyota Corolla", line)

	q, err = DecodeQuery(line)
	require.NoError(t, err)
	assert.Equal(t, model.Query{Identifier: "Toyota Corolla", FreeText: true}, q)
}

func TestEncodeQuery_Empty(t *testing.T) {
	_, err := EncodeQuery(model.Query{Identifier: "--"})
	assert.ErrorIs(t, err, model.ErrEmptyQuery)
}

func TestDecodeQuery_Invalid(t *testing.T) {
	for _, line := range []string{
		"",
		"HELLO NEW PLATE ABC",
		"QUERY MAYBE PLATE ABC",
		"QUERY NEW VIN ABC",
		"QUERY NEW PLATE",
	} {
		_, err := DecodeQuery(line)
		var perr *model.ParseError
		assert.ErrorAs(t, err, &perr, "line %q", line)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in         string
		want       int
		wantErr    bool
		fractional bool
	}{
		{"1598", 1598, false, false},
		{"123 456 km", 123456, false, false},
		{"1,598 cm3", 1598, false, false},
		{"1.598 cm3", 1598, false, false},
		{"1,234,567", 1234567, false, false},
		{"110 HP", 110, false, false},
		{"12\u00a0000", 12000, false, false},
		{"", 0, true, false},
		{"km", 0, true, false},
		{"1.6", 0, true, true},
		{"1.6 l", 0, true, true},
		{"2,5 l", 0, true, true},
		{"1.5981", 0, true, true},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			if tt.fractional {
				assert.ErrorIs(t, err, ErrFractional, tt.in)
			} else {
				assert.NotErrorIs(t, err, ErrFractional, tt.in)
			}
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
