package payment

// User-facing texts of the payment flow.
const (
	AskDocumentText     = "¡Recibimos tu comprobante de pago! 🧾 Escribe tu número de documento (solo números, sin puntos ni espacios)."
	InvalidDocumentText = "El número de documento debe tener entre 6 y 10 dígitos, sin puntos ni letras. Intenta de nuevo."
	NotFoundText        = "No encontré un paciente con ese número de documento. Revisa el número y escríbelo de nuevo."
	ExamListText        = "Recibimos tu orden de exámenes 📋 Para agendar tu examen ocupacional ingresa a https://bsl-plataforma.com/nuevaorden1.html"
	HandoffText         = "Un asesor revisará tu imagen y te responderá en un momento 🙌"
	certificateFormat   = "¡Pago registrado! ✅ Descarga tu certificado aquí:\n%s"
)

// Instructions is the fixed payment-methods message an admin can push to a user.
const Instructions = `💳 Medios de pago:

• Bancolombia: Ahorros 44291192456 (cédula 79981585)
• Daviplata: 3014400818 (Mar Rea)
• Nequi: 3008021701 (Dan Tal)
• Transfiya

Cuando realices el pago envía aquí la foto del comprobante.`

// DefaultCertificateURL is the download link template; %s is the record id.
const DefaultCertificateURL = "https://bsl-plataforma.com/descargar-certificado.html?id=%s"
