package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gosuri/uitable"
	"gopkg.in/yaml.v3"

	"github.com/carthingy/carthingy/cmd/carthingy/app/options"
	"github.com/carthingy/carthingy/internal/carstore"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/history"
	"github.com/carthingy/carthingy/internal/notifier"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/internal/refresher"
)

const maxColWidth = 60

// printer renders results in the selected output format.
type printer struct {
	out    io.Writer
	format string
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = maxColWidth
	t.Wrap = true
	return t
}

// print writes v as JSON or YAML, or calls table for the table format.
func (p printer) print(v any, table func(t *uitable.Table)) error {
	switch p.format {
	case options.OutputJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case options.OutputYAML:
		return writeYAML(p.out, v)
	}
	t := newTable()
	table(t)
	_, err := fmt.Fprintln(p.out, t)
	return err
}

// writeYAML goes through JSON so json tags name the keys and their order is kept.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

type queryResult struct {
	SessionID string              `json:"session_id"`
	Phase     string              `json:"phase"`
	Reason    string              `json:"reason,omitempty"`
	Record    model.VehicleRecord `json:"record"`
	Log       []string            `json:"log"`
	Report    carthingy.Report    `json:"report"`
}

func (p printer) printSession(snap session.Snapshot, rep carthingy.Report) error {
	res := queryResult{
		SessionID: snap.SessionID,
		Phase:     string(snap.State.Phase),
		Reason:    snap.State.Reason,
		Record:    snap.Record,
		Log:       snap.Log,
		Report:    rep,
	}
	return p.print(res, func(t *uitable.Table) {
		t.AddRow("SESSION", snap.SessionID)
		t.AddRow("STATE", snap.State.String())
		addRecordRows(t, snap.Record)
		if rep.Car != nil {
			t.AddRow("SAVED AS", rep.Car.LicensePlate)
		}
		if rep.Topic != "" {
			t.AddRow("PUBLISHED", rep.Topic)
		}
		if rep.Archive != nil {
			t.AddRow("ARCHIVED", rep.Archive.Key)
			if rep.Archive.URL != "" {
				t.AddRow("SHARE URL", rep.Archive.URL)
			}
		}
	})
}

func addRecordRows(t *uitable.Table, rec model.VehicleRecord) {
	number := func(n int) string {
		if n == model.UnknownNumber {
			return model.Unknown
		}
		return strconv.Itoa(n)
	}

	t.AddRow("PLATE", rec.LicensePlate)
	t.AddRow("BRAND", rec.Brand)
	t.AddRow("MODEL", rec.Model)
	t.AddRow("TYPE CODE", rec.TypeCode)
	t.AddRow("STATUS", rec.Status)
	t.AddRow("FIRST REGISTRATION", rec.FirstReg)
	t.AddRow("FIRST DOMESTIC REGISTRATION", rec.FirstRegDomestic)
	t.AddRow("YEAR", number(rec.Year))
	t.AddRow("OWNERS", number(rec.OwnerCount))
	t.AddRow("FUEL", rec.FuelType)
	t.AddRow("GEARBOX", rec.Gearbox)
	t.AddRow("COLOR", rec.Color)
	t.AddRow("ENGINE SIZE", number(rec.EngineSize))
	t.AddRow("PERFORMANCE", number(rec.Horsepower))
	if len(rec.Restrictions) > 0 {
		t.AddRow("RESTRICTIONS", strings.Join(rec.Restrictions, ", "))
	}
	for _, a := range rec.Accidents {
		t.AddRow("ACCIDENT", strings.TrimSpace(a.Date+" "+a.Role))
	}
	for _, i := range rec.Inspections {
		t.AddRow("INSPECTION", strings.TrimSpace(i.Name+" "+i.Date))
	}
	for _, m := range rec.Mileage {
		t.AddRow("MILEAGE", fmt.Sprintf("%s  %d km", m.Date, m.Value))
	}
}

func (p printer) printCars(cars []carstore.Car) error {
	return p.print(cars, func(t *uitable.Table) {
		t.AddRow("PLATE", "BRAND", "MODEL", "CODENAME", "YEAR", "NEW", "COMMENT")
		for _, c := range cars {
			t.AddRow(c.LicensePlate, c.Brand, c.Model, c.Codename, c.Year, bool(c.IsNew), c.Comment)
		}
	})
}

func (p printer) printBrands(brands []carstore.Brand) error {
	return p.print(brands, func(t *uitable.Table) {
		t.AddRow("ID", "BRAND")
		for _, b := range brands {
			t.AddRow(b.ID, b.Name)
		}
	})
}

func (p printer) printHistory(entries []history.Entry) error {
	return p.print(entries, func(t *uitable.Table) {
		t.AddRow("FINISHED", "PLATE", "PHASE", "BRAND", "MODEL", "SESSION")
		for _, e := range entries {
			t.AddRow(e.FinishedAt.Local().Format("2006-01-02 15:04"), e.Plate, e.Phase, e.Brand, e.Model, e.SessionID)
		}
	})
}

func (p printer) printSummary(sum refresher.Summary) error {
	return p.print(sum, func(t *uitable.Table) {
		t.AddRow("PLATE", "PHASE", "ERROR")
		for _, r := range sum.Results {
			t.AddRow(r.Plate, r.Phase, r.Error)
		}
	})
}

func (p printer) printRecordMessage(m notifier.RecordMessage) error {
	return p.print(m, func(t *uitable.Table) {
		t.AddRow("RECEIVED", m.Timestamp.Local().Format("2006-01-02 15:04:05"))
		t.AddRow("SESSION", m.SessionID)
		addRecordRows(t, m.Record)
	})
}
