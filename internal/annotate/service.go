package annotate

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"go.uber.org/zap"
)

const (
	opServiceNew = "annotate.service.new"
	opOpen       = "annotate.open"
	opSave       = "annotate.save"

	documentNamespace = "certificates"
)

var (
	// ErrNoDocument means the certificate has no uploaded document to
	// annotate.
	ErrNoDocument = errors.New("annotate: certificate has no document")

	errMissingCertificates = errors.New("certificate store is required")
	errMissingBackgrounds  = errors.New("background loader is required")
	errMissingUploader     = errors.New("document uploader is required")
)

// CertificateDocuments is the part of the certificate service the editor
// reads from and writes the flattened result to.
type CertificateDocuments interface {
	Get(ctx context.Context, id string) (certificates.Certificate, error)
	SetDocument(ctx context.Context, id, documentURL string, generated bool) (certificates.Certificate, error)
}

type BackgroundLoader interface {
	Load(ctx context.Context, documentURL string) (image.Image, error)
}

type DocumentUploader interface {
	Store(ctx context.Context, upload media.Upload) (string, error)
	Retire(ctx context.Context, retiredURL, currentURL string)
}

type ServiceConfig struct {
	Certificates CertificateDocuments
	Backgrounds  BackgroundLoader
	Uploader     DocumentUploader
	IDProvider   ids.Provider
	IdleTTL      time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service runs editing sessions over certificate documents.
type Service struct {
	certificates CertificateDocuments
	backgrounds  BackgroundLoader
	uploader     DocumentUploader
	sessions     *Sessions
	logger       *zap.Logger
}

// View is the client-facing state of a session.
type View struct {
	SessionID     string   `json:"session_id"`
	CertificateID string   `json:"certificate_id"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Objects       []Object `json:"objects"`
	CanUndo       bool     `json:"can_undo"`
	CanRedo       bool     `json:"can_redo"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Certificates == nil {
		return nil, serviceerr.New(opServiceNew, "missing_certificates", errMissingCertificates)
	}
	if cfg.Backgrounds == nil {
		return nil, serviceerr.New(opServiceNew, "missing_backgrounds", errMissingBackgrounds)
	}
	if cfg.Uploader == nil {
		return nil, serviceerr.New(opServiceNew, "missing_uploader", errMissingUploader)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		certificates: cfg.Certificates,
		backgrounds:  cfg.Backgrounds,
		uploader:     cfg.Uploader,
		sessions:     NewSessions(cfg.IDProvider, cfg.IdleTTL, cfg.Clock),
		logger:       logger,
	}, nil
}

// Open loads the certificate's document as the background of a new
// session.
func (s *Service) Open(ctx context.Context, certificateID string) (View, error) {
	certificate, err := s.certificates.Get(ctx, certificateID)
	if err != nil {
		return View{}, err
	}
	if certificate.PDFURL == nil || *certificate.PDFURL == "" {
		return View{}, ErrNoDocument
	}
	background, err := s.backgrounds.Load(ctx, *certificate.PDFURL)
	if err != nil {
		s.logError(opOpen, "background_failed", err, zap.String("certificate_id", certificateID))
		return View{}, serviceerr.New(opOpen, "background_failed", err)
	}
	session, err := s.sessions.Create(certificateID, NewCanvas(background))
	if err != nil {
		s.logError(opOpen, "session_failed", err)
		return View{}, serviceerr.New(opOpen, "session_failed", err)
	}
	return s.Edit(session.ID, func(*Canvas) error { return nil })
}

// Edit applies fn to the session's canvas and returns the resulting view.
func (s *Service) Edit(sessionID string, fn func(*Canvas) error) (View, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = session.Do(func(canvas *Canvas) error {
		if err := fn(canvas); err != nil {
			return err
		}
		view = viewOf(session, canvas)
		return nil
	})
	return view, err
}

// Preview renders the flattened canvas as PNG without saving it.
func (s *Service) Preview(sessionID string) ([]byte, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	var encoded []byte
	err = session.Do(func(canvas *Canvas) error {
		encoded, err = canvas.EncodePNG()
		return err
	})
	return encoded, err
}

// Save flattens the canvas, stores the image and records it as the
// certificate's generated document. The certificate service retires the
// image it replaces. The session stays open.
func (s *Service) Save(ctx context.Context, sessionID string) (certificates.Certificate, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return certificates.Certificate{}, err
	}
	var encoded []byte
	if err := session.Do(func(canvas *Canvas) error {
		var encodeErr error
		encoded, encodeErr = canvas.EncodePNG()
		return encodeErr
	}); err != nil {
		s.logError(opSave, "flatten_failed", err, zap.String("session_id", sessionID))
		return certificates.Certificate{}, serviceerr.New(opSave, "flatten_failed", err)
	}

	certificate, err := s.certificates.Get(ctx, session.CertificateID)
	if err != nil {
		return certificates.Certificate{}, err
	}
	documentURL, err := s.uploader.Store(ctx, media.Upload{
		Namespace:   documentNamespace,
		Filename:    certificate.RegistrationNumber + ".png",
		ContentType: "image/png",
		Data:        encoded,
		Kind:        media.KindDocument,
	})
	if err != nil {
		return certificates.Certificate{}, err
	}
	saved, err := s.certificates.SetDocument(ctx, session.CertificateID, documentURL, true)
	if err != nil {
		// The record still points at its old document; drop the unreferenced one.
		s.uploader.Retire(ctx, documentURL, "")
		return certificates.Certificate{}, err
	}
	return saved, nil
}

// Close discards a session without saving.
func (s *Service) Close(sessionID string) {
	s.sessions.Close(sessionID)
}

func viewOf(session *Session, canvas *Canvas) View {
	width, height := canvas.Size()
	objects := canvas.Objects()
	if objects == nil {
		objects = []Object{}
	}
	return View{
		SessionID:     session.ID,
		CertificateID: session.CertificateID,
		Width:         width,
		Height:        height,
		Objects:       objects,
		CanUndo:       canvas.CanUndo(),
		CanRedo:       canvas.CanRedo(),
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("annotation operation failed", allFields...)
}
