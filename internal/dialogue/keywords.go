package dialogue

import "strings"

var closingWords = []string{
	"gracias", "muchas gracias", "vale", "perfecto", "ok", "entendido", "listo", "todo claro",
}

var virtualWords = []string{
	"virtual", "quiero virtual", "el virtual", "voy con virtual", "me interesa virtual", "prefiero virtual",
}

var presentialWords = []string{
	"presencial", "quiero presencial", "el presencial", "voy con presencial", "me interesa presencial", "prefiero presencial",
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// IsVirtualChoice reports whether the user picked the virtual exam.
func IsVirtualChoice(msg string) bool {
	return containsAny(normalize(msg), virtualWords)
}

// IsPresentialChoice reports whether the user picked the on-site exam.
func IsPresentialChoice(msg string) bool {
	return containsAny(normalize(msg), presentialWords)
}

// IsClosing reports whether the whole message is a thank-you or acknowledgement.
func IsClosing(msg string) bool {
	m := strings.TrimRight(normalize(msg), "!.🙏👍 ")
	for _, w := range closingWords {
		if m == w {
			return true
		}
	}
	return false
}
