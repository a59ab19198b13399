package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/log"
)

const contentTypeJSON = "application/json"

// ErrNotCompleted is returned when archiving a session that did not complete.
var ErrNotCompleted = errors.New("only completed sessions are archived")

// Document is the JSON object written for one session.
type Document struct {
	SessionID  string              `json:"session_id"`
	Identifier string              `json:"identifier"`
	FreeText   bool                `json:"free_text"`
	Known      bool                `json:"known"`
	StartedAt  time.Time           `json:"started_at"`
	ArchivedAt time.Time           `json:"archived_at"`
	Record     model.VehicleRecord `json:"record"`
	Log        []string            `json:"log"`
}

// Result locates an archived document.
type Result struct {
	Key string `json:"key" yaml:"key"`
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Archiver writes completed sessions to a Provider.
type Archiver struct {
	provider Provider
	expiry   time.Duration
	logger   log.Logger
	now      func() time.Time
}

// New returns an Archiver. A zero expiry skips presigning.
func New(provider Provider, expiry time.Duration, logger log.Logger) *Archiver {
	if logger == nil {
		logger = log.Std()
	}
	return &Archiver{
		provider: provider,
		expiry:   expiry,
		logger:   logger.WithName("archive"),
		now:      time.Now,
	}
}

// ObjectKey is records/{PLATE}/{sessionID}.json.
func ObjectKey(plate, sessionID string) string {
	plate = model.NormalizePlate(plate)
	if plate == "" {
		plate = "_"
	}
	return path.Join("records", plate, sessionID+".json")
}

// Archive uploads snap and returns where it went.
func (a *Archiver) Archive(ctx context.Context, snap session.Snapshot) (Result, error) {
	if snap.State.Phase != model.PhaseCompleted {
		return Result{}, ErrNotCompleted
	}

	doc := Document{
		SessionID:  snap.SessionID,
		Identifier: snap.Query.Identifier,
		FreeText:   snap.Query.FreeText,
		Known:      snap.Query.Known,
		StartedAt:  snap.StartedAt,
		ArchivedAt: a.now().UTC(),
		Record:     snap.Record,
		Log:        snap.Log,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("archive: encode session %s: %w", snap.SessionID, err)
	}

	plate := snap.Record.LicensePlate
	if model.IsUnknown(plate) && !snap.Query.FreeText {
		plate = snap.Query.Identifier
	}
	res := Result{Key: ObjectKey(plate, snap.SessionID)}

	if err := a.provider.PutObject(ctx, res.Key, data, contentTypeJSON); err != nil {
		return Result{}, err
	}
	a.logger.Info("Archived session record", "key", res.Key, "sessionID", snap.SessionID)

	if a.expiry > 0 {
		u, err := a.provider.GeneratePresignedURL(ctx, res.Key, a.expiry)
		if err != nil {
			return res, err
		}
		res.URL = u
	}
	return res, nil
}
