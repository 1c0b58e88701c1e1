package patients

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// ClinicTimezone is the IANA zone dates are shown in.
const ClinicTimezone = "America/Bogota"

// fallbackZone is used when the host has no tz database. Colombia has no DST.
var fallbackZone = time.FixedZone("COT", -5*60*60)

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var weekdayNames = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

// LoadLocation returns the named zone, or the fixed UTC-5 zone when it
// cannot be loaded.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = ClinicTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("patients.LoadLocation: zone unavailable, using UTC-5", "zone", name, "error", err)
		return fallbackZone
	}
	return loc
}

// FormatDate renders t in loc as e.g. "lunes 3 de marzo de 2025, 10:30".
// A nil time renders as "sin fecha".
func FormatDate(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "sin fecha"
	}
	if loc == nil {
		loc = fallbackZone
	}
	lt := t.In(loc)
	return fmt.Sprintf("%s %d de %s de %d, %02d:%02d",
		weekdayNames[lt.Weekday()], lt.Day(), monthNames[lt.Month()-1], lt.Year(), lt.Hour(), lt.Minute())
}

// ContextBlock renders the patient information handed to the model.
func ContextBlock(rec *models.PatientRecord, status models.PatientStatus, loc *time.Location) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("📋 INFORMACIÓN DEL PACIENTE:\n")
	fmt.Fprintf(&b, "Nombre: %s\n", rec.FullName())
	fmt.Fprintf(&b, "Documento: %s\n", rec.Document)
	fmt.Fprintf(&b, "Fecha de atención: %s\n", FormatDate(rec.AppointmentAt, loc))
	fmt.Fprintf(&b, "Fecha de consulta: %s\n", FormatDate(rec.ConsultationAt, loc))
	if rec.City != "" {
		fmt.Fprintf(&b, "Ciudad: %s\n", rec.City)
	}
	if rec.Employer != "" {
		fmt.Fprintf(&b, "Empresa: %s\n", rec.Employer)
	}
	fmt.Fprintf(&b, "Pagado: %s\n", yesNo(rec.Paid))
	fmt.Fprintf(&b, "Estado detallado: %s\n", status)
	return b.String()
}

// Summary renders the reply posted in the authorized group for a document lookup.
func Summary(rec *models.PatientRecord, status models.PatientStatus, loc *time.Location) string {
	if rec == nil {
		return "No encontré ningún paciente con ese documento."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n", rec.FullName())
	fmt.Fprintf(&b, "🪪 %s\n", rec.Document)
	if rec.Phone != "" {
		fmt.Fprintf(&b, "📱 %s\n", rec.Phone)
	}
	fmt.Fprintf(&b, "📅 Atención: %s\n", FormatDate(rec.AppointmentAt, loc))
	fmt.Fprintf(&b, "🩺 Consulta: %s\n", FormatDate(rec.ConsultationAt, loc))
	fmt.Fprintf(&b, "💳 Pagado: %s\n", yesNo(rec.Paid))
	fmt.Fprintf(&b, "📌 Estado: %s", status)
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "sí"
	}
	return "no"
}
