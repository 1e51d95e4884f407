package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/annotate"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"go.uber.org/zap"
)

type errorMapping struct {
	targets []error
	status  int
	reason  string
}

var errorMappings = []errorMapping{
	{
		targets: []error{
			content.ErrUnknownCollection, content.ErrNotFound,
			registrations.ErrNotFound, certificates.ErrNotFound,
			settings.ErrUnknownKey, annotate.ErrSessionNotFound, annotate.ErrObjectNotFound,
		},
		status: http.StatusNotFound,
		reason: "not_found",
	},
	{
		targets: []error{
			content.ErrConfirmationRequired, registrations.ErrConfirmationRequired,
			certificates.ErrConfirmationRequired,
		},
		status: http.StatusPreconditionRequired,
		reason: "confirmation_required",
	},
	{targets: []error{media.ErrUnsupportedType}, status: http.StatusUnsupportedMediaType, reason: "unsupported_media_type"},
	{targets: []error{media.ErrTooLarge}, status: http.StatusRequestEntityTooLarge, reason: "file_too_large"},
	{targets: []error{media.ErrInvalidImage, media.ErrInvalidUpload}, status: http.StatusBadRequest, reason: "invalid_upload"},
	{
		targets: []error{content.ErrInvalidDirection, registrations.ErrInvalidStatus, annotate.ErrInvalidObject},
		status:  http.StatusBadRequest,
		reason:  "invalid_request",
	},
	{targets: []error{settings.ErrInvalidValue}, status: http.StatusUnprocessableEntity, reason: "invalid_settings"},
	{targets: []error{certificates.ErrDuplicateRegistration}, status: http.StatusConflict, reason: "duplicate_registration"},
	{targets: []error{certificates.ErrRegistrationNumberImmutable}, status: http.StatusConflict, reason: "registration_number_immutable"},
	{targets: []error{annotate.ErrNoDocument}, status: http.StatusConflict, reason: "no_document"},
}

// respondError maps a service failure onto the API's error envelope.
// Validation failures go back field by field; store failures carry the coded
// reason and the store's own message.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var validationErr *editor.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": validationErr.Fields})
		return
	}
	for _, mapping := range errorMappings {
		for _, target := range mapping.targets {
			if errors.Is(err, target) {
				h.logger.Warn("request rejected",
					zap.String("path", c.FullPath()),
					zap.String("reason", mapping.reason),
					zap.Error(err))
				c.JSON(mapping.status, gin.H{"error": mapping.reason, "message": err.Error()})
				return
			}
		}
	}

	code := serviceerr.Code(err)
	message := err.Error()
	var coded *serviceerr.Error
	if errors.As(err, &coded) {
		message = coded.Message()
	}
	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("code", code),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "code": code, "message": message})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
