// Package patients reads the clinic's patient records and intake forms.
//
// The tables belong to the clinic's records system; this package only reads
// them, except for the payment flag.
package patients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// ErrPatientNotFound is returned by MarkPaid when no record has the document.
var ErrPatientNotFound = errors.New("patient record not found")

// Record maps the legacy clinical history table.
type Record struct {
	ID             string     `gorm:"column:id;primaryKey"`
	Document       string     `gorm:"column:numero_id;index"`
	Phone          string     `gorm:"column:celular;index"`
	FirstName      string     `gorm:"column:primer_nombre"`
	LastName       string     `gorm:"column:primer_apellido"`
	AppointmentAt  *time.Time `gorm:"column:fecha_atencion"`
	ConsultationAt *time.Time `gorm:"column:fecha_consulta"`
	City           string     `gorm:"column:ciudad"`
	Employer       string     `gorm:"column:empresa"`
	Paid           bool       `gorm:"column:pagado"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

// TableName overrides the gorm default.
func (Record) TableName() string { return "historia_clinica" }

// Form maps the intake form table; only existence matters.
type Form struct {
	ID       uint   `gorm:"primaryKey"`
	RecordID string `gorm:"column:id_general;index"`
}

// TableName overrides the gorm default.
func (Form) TableName() string { return "formularios" }

func (r Record) toModel() *models.PatientRecord {
	return &models.PatientRecord{
		ID:             r.ID,
		Document:       r.Document,
		Phone:          r.Phone,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		AppointmentAt:  r.AppointmentAt,
		ConsultationAt: r.ConsultationAt,
		City:           r.City,
		Employer:       r.Employer,
		Paid:           r.Paid,
	}
}

// Directory looks up patient records.
type Directory struct {
	db *gorm.DB
}

// Open connects to the records database.
func Open(dsn string) (*Directory, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open patients database: %w", err)
	}
	return NewDirectory(db), nil
}

// NewDirectory wraps an existing gorm handle.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// AutoMigrate creates the mapped tables. Only used by tests and fresh
// installs; production tables are owned by the records system.
func (d *Directory) AutoMigrate() error {
	return d.db.AutoMigrate(&Record{}, &Form{})
}

// GetByPhone returns the most recent record for phone, or nil.
func (d *Directory) GetByPhone(ctx context.Context, phone string) (*models.PatientRecord, error) {
	var rec Record
	err := d.db.WithContext(ctx).
		Where("celular = ?", phone).
		Order("fecha_atencion DESC NULLS LAST").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Directory.GetByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("patient by phone: %w", err)
	}
	return rec.toModel(), nil
}

// GetByDocument returns the most recent record for a national document id, or nil.
func (d *Directory) GetByDocument(ctx context.Context, document string) (*models.PatientRecord, error) {
	var rec Record
	err := d.db.WithContext(ctx).
		Where("numero_id = ?", document).
		Order("fecha_atencion DESC NULLS LAST").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Directory.GetByDocument failed", "error", err, "document", document)
		return nil, fmt.Errorf("patient by document: %w", err)
	}
	return rec.toModel(), nil
}

// HasForm reports whether an intake form references the record.
func (d *Directory) HasForm(ctx context.Context, recordID string) (bool, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&Form{}).Where("id_general = ?", recordID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("form lookup: %w", err)
	}
	return n > 0, nil
}

// MarkPaid flags the latest record for document as paid and returns its id.
func (d *Directory) MarkPaid(ctx context.Context, document string) (string, error) {
	rec, err := d.GetByDocument(ctx, document)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrPatientNotFound
	}
	res := d.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{"pagado": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		slog.Error("Directory.MarkPaid failed", "error", res.Error, "document", document)
		return "", fmt.Errorf("mark paid: %w", res.Error)
	}
	slog.Info("Directory.MarkPaid: record marked paid", "document", document, "recordID", rec.ID)
	return rec.ID, nil
}
