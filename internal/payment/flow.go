// Package payment implements the per-user receipt → document → certificate flow.
//
// An image classified as a payment receipt opens a session waiting for the
// patient's document number. A valid number marks the patient record paid and
// answers with the certificate download link; the bot then stops for that user.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bsl-salud/whatsbot/internal/metrics"
	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/patients"
)

// ImageLabel is the classifier's verdict on an inbound image.
type ImageLabel string

const (
	LabelPaymentReceipt ImageLabel = "comprobante_pago"
	LabelExamList       ImageLabel = "listado_examenes"
	LabelCertificate    ImageLabel = "certificado_medico"
	LabelOther          ImageLabel = "otro"
	LabelError          ImageLabel = "error"
)

// ClassificationInstructions is sent with every image.
const ClassificationInstructions = `Clasifica la imagen en UNA de estas categorías y responde solo con la etiqueta:
comprobante_pago: comprobante o captura de una transferencia o pago (Bancolombia, Nequi, Daviplata, Transfiya).
listado_examenes: orden médica o listado de exámenes ocupacionales solicitados por una empresa.
certificado_medico: certificado médico ocupacional ya emitido.
otro: cualquier otra imagen.`

// ErrRetryable is models.ErrRetryable, re-exported for callers of this package.
var ErrRetryable = models.ErrRetryable

var documentPattern = regexp.MustCompile(`^\d{6,10}$`)

// Classifier labels an image.
type Classifier interface {
	ClassifyImage(ctx context.Context, instructions string, image []byte, mimeType string) (string, error)
}

// PaymentMarker marks the patient with the given document as paid and
// returns the record reference. It returns patients.ErrPatientNotFound when
// no record matches.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, document string) (string, error)
}

// StopFlagWriter hands the conversation to a human.
type StopFlagWriter interface {
	SetStopFlag(ctx context.Context, phone string, value bool) (bool, error)
}

// Flow drives payment sessions.
type Flow struct {
	classifier     Classifier
	sessions       SessionStore
	payments       PaymentMarker
	stops          StopFlagWriter
	certificateURL string
}

// Option configures a Flow.
type Option func(*Flow)

// WithCertificateURL sets the download link template. It must contain one %s.
func WithCertificateURL(tmpl string) Option {
	return func(f *Flow) {
		if tmpl != "" {
			f.certificateURL = tmpl
		}
	}
}

// NewFlow creates a payment flow.
func NewFlow(classifier Classifier, sessions SessionStore, payments PaymentMarker, stops StopFlagWriter, opts ...Option) *Flow {
	f := &Flow{
		classifier:     classifier,
		sessions:       sessions,
		payments:       payments,
		stops:          stops,
		certificateURL: DefaultCertificateURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ParseLabel maps raw classifier output to a known label; unknown output is LabelOther.
func ParseLabel(raw string) ImageLabel {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, l := range []ImageLabel{LabelPaymentReceipt, LabelExamList, LabelCertificate, LabelError} {
		if strings.Contains(s, string(l)) {
			return l
		}
	}
	return LabelOther
}

// HandleImage classifies an inbound image and returns the reply to send.
// A classifier failure counts as LabelError and hands the user to a human.
func (f *Flow) HandleImage(ctx context.Context, phone string, image []byte, mimeType string) (string, error) {
	label := LabelError
	raw, err := f.classifier.ClassifyImage(ctx, ClassificationInstructions, image, mimeType)
	if err != nil {
		slog.Error("Flow.HandleImage: classification failed", "phone", phone, "error", err)
	} else {
		label = ParseLabel(raw)
	}
	slog.Debug("Flow.HandleImage: classified", "phone", phone, "label", label)

	switch label {
	case LabelPaymentReceipt:
		if err := f.sessions.Set(ctx, phone, StateAwaitingDocument); err != nil {
			return "", fmt.Errorf("%w: open session: %v", ErrRetryable, err)
		}
		metrics.PaymentTransitions.WithLabelValues("receipt_accepted").Inc()
		return AskDocumentText, nil
	case LabelExamList:
		metrics.PaymentTransitions.WithLabelValues("exam_list").Inc()
		return ExamListText, nil
	default:
		metrics.PaymentTransitions.WithLabelValues("handoff").Inc()
		f.stop(ctx, phone)
		return HandoffText, nil
	}
}

// HandleText consumes text while a session awaits a document. It reports
// handled=false when the phone has no session, leaving the text to the caller.
// Database failures while marking the payment are returned wrapped in
// ErrRetryable and leave the session open.
func (f *Flow) HandleText(ctx context.Context, phone, text string) (reply string, handled bool, err error) {
	state, err := f.sessions.Get(ctx, phone)
	if err != nil {
		slog.Warn("Flow.HandleText: session read failed, treating as idle", "phone", phone, "error", err)
		return "", false, nil
	}
	if state != StateAwaitingDocument {
		return "", false, nil
	}

	document := strings.TrimSpace(text)
	if !documentPattern.MatchString(document) {
		metrics.PaymentTransitions.WithLabelValues("invalid_document").Inc()
		return InvalidDocumentText, true, nil
	}

	recordID, err := f.payments.MarkPaid(ctx, document)
	if errors.Is(err, patients.ErrPatientNotFound) {
		metrics.PaymentTransitions.WithLabelValues("not_found").Inc()
		return NotFoundText, true, nil
	}
	if err != nil {
		metrics.PaymentTransitions.WithLabelValues("mark_failed").Inc()
		slog.Error("Flow.HandleText: mark paid failed", "phone", phone, "document", document, "error", err)
		return "", true, fmt.Errorf("%w: mark paid: %v", ErrRetryable, err)
	}

	if err := f.sessions.Delete(ctx, phone); err != nil {
		slog.Warn("Flow.HandleText: session delete failed", "phone", phone, "error", err)
	}
	f.stop(ctx, phone)
	metrics.PaymentTransitions.WithLabelValues("paid").Inc()
	slog.Info("Flow.HandleText: payment registered", "phone", phone, "document", document, "recordID", recordID)
	return fmt.Sprintf(certificateFormat, fmt.Sprintf(f.certificateURL, recordID)), true, nil
}

// Cancel drops any session for phone.
func (f *Flow) Cancel(ctx context.Context, phone string) error {
	if err := f.sessions.Delete(ctx, phone); err != nil {
		return fmt.Errorf("cancel payment session: %w", err)
	}
	metrics.PaymentTransitions.WithLabelValues("cancelled").Inc()
	slog.Debug("Flow.Cancel: session cleared", "phone", phone)
	return nil
}

// State returns phone's current state; read failures report StateIdle.
func (f *Flow) State(ctx context.Context, phone string) State {
	s, err := f.sessions.Get(ctx, phone)
	if err != nil {
		slog.Warn("Flow.State: session read failed", "phone", phone, "error", err)
		return StateIdle
	}
	return s
}

func (f *Flow) stop(ctx context.Context, phone string) {
	ok, err := f.stops.SetStopFlag(ctx, phone, true)
	if err != nil {
		slog.Error("Flow.stop: set stop flag failed", "phone", phone, "error", err)
		return
	}
	if !ok {
		slog.Warn("Flow.stop: no open conversation to stop", "phone", phone)
	}
}
