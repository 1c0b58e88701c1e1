package models

import "time"

// PatientStatus summarizes where a patient is in the exam process.
type PatientStatus string

const (
	PatientStatusConsultationDone    PatientStatus = "consulta_realizada"
	PatientStatusAppointmentBooked   PatientStatus = "cita_programada"
	PatientStatusFormMissing         PatientStatus = "falta_formulario"
	PatientStatusConsultationSkipped PatientStatus = "no_realizo_consulta"
	PatientStatusAppointmentMissed   PatientStatus = "no_asistio_consulta"
	PatientStatusUnknown             PatientStatus = "sin_informacion"
)

// PatientRecord is the read-mostly view of the clinic's patient record.
type PatientRecord struct {
	ID             string     `json:"id"`
	Document       string     `json:"document"`
	Phone          string     `json:"phone"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	AppointmentAt  *time.Time `json:"appointment_at,omitempty"`
	ConsultationAt *time.Time `json:"consultation_at,omitempty"`
	City           string     `json:"city,omitempty"`
	Employer       string     `json:"employer,omitempty"`
	Paid           bool       `json:"paid"`
}

// FullName joins first and last name.
func (p PatientRecord) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Status derives the process status of the record at instant now.
// hasForm reports whether the intake form was submitted.
func (p PatientRecord) Status(now time.Time, hasForm bool) PatientStatus {
	if p.ConsultationAt != nil {
		return PatientStatusConsultationDone
	}
	if p.AppointmentAt == nil {
		return PatientStatusUnknown
	}
	if p.AppointmentAt.After(now) {
		if !hasForm {
			return PatientStatusFormMissing
		}
		return PatientStatusAppointmentBooked
	}
	if hasForm {
		return PatientStatusAppointmentMissed
	}
	return PatientStatusConsultationSkipped
}
