package patients

import (
	"context"
	"time"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Lookup is the read side of the directory used by the bot.
type Lookup interface {
	GetByPhone(ctx context.Context, phone string) (*models.PatientRecord, error)
	GetByDocument(ctx context.Context, document string) (*models.PatientRecord, error)
	HasForm(ctx context.Context, recordID string) (bool, error)
}

// Compile-time check that Directory implements Lookup.
var _ Lookup = (*Directory)(nil)

// StatusOf derives the record's status at now, checking the intake form only
// when the status depends on it.
func StatusOf(ctx context.Context, lookup Lookup, rec *models.PatientRecord, now time.Time) (models.PatientStatus, error) {
	if rec == nil {
		return models.PatientStatusUnknown, nil
	}
	if rec.ConsultationAt != nil || rec.AppointmentAt == nil {
		return rec.Status(now, false), nil
	}
	hasForm, err := lookup.HasForm(ctx, rec.ID)
	if err != nil {
		return models.PatientStatusUnknown, err
	}
	return rec.Status(now, hasForm), nil
}
