package knowledge

import (
	"fmt"
	"strings"

	"github.com/bsl-salud/whatsbot/internal/models"
)

const (
	maxContextQuestion = 80
	maxContextAnswer   = 150
)

// categories is checked in order; the first keyword hit wins.
var categories = []struct {
	name     string
	keywords []string
}{
	{"precios", []string{"precio", "costo", "cuanto", "valor", "pago", "$", "plata", "tarifa"}},
	{"horarios", []string{"horario", "hora", "cuando", "disponible", "abierto", "atienden"}},
	{"agendamiento", []string{"agendar", "cita", "reservar", "programar", "turno", "agenda"}},
	{"virtual", []string{"virtual", "online", "casa", "remoto", "videollamada"}},
	{"presencial", []string{"presencial", "ir", "direccion", "ubicacion", "donde", "sede"}},
	{"certificado", []string{"certificado", "descargar", "pdf", "listo", "documento", "constancia"}},
	{"pagos", []string{"pagar", "nequi", "daviplata", "bancolombia", "transferencia", "comprobante"}},
	{"examenes", []string{"examen", "audiometria", "optometria", "visiometria", "medico", "prueba"}},
}

// DetectCategory tags a question by keyword, defaulting to "general".
func DetectCategory(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name
			}
		}
	}
	return "general"
}

// FormatContext renders matches as a prompt block. It returns "" for no matches.
func FormatContext(matches []models.KnowledgeMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n--- RESPUESTAS PREVIAS RELEVANTES ---\n")
	b.WriteString("Usa estas respuestas como referencia (especialmente las del ADMIN):\n\n")
	for i, m := range matches {
		label := "🤖 Bot"
		if m.Pair.Source == models.KnowledgeSourceAdmin {
			label = "👨‍💼 ADMIN"
		}
		fmt.Fprintf(&b, "[%d] %s (%.0f%% similar):\n", i+1, label, m.Similarity*100)
		fmt.Fprintf(&b, "   P: \"%s\"\n", truncate(m.Pair.Question, maxContextQuestion))
		fmt.Fprintf(&b, "   R: \"%s\"\n\n", truncate(m.Pair.Answer, maxContextAnswer))
	}
	b.WriteString("--- FIN RESPUESTAS PREVIAS ---\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
