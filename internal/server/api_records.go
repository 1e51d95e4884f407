package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
)

const certificateNamespace = "certificates"

type registrationPatchPayload struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

// handleUpdateSettings replaces one settings group with the request body.
func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || !json.Valid(raw) {
		respondBadRequest(c, "body must be a JSON document")
		return
	}
	key := c.Param("key")
	if err := h.settings.Update(c.Request.Context(), key, raw); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": h.settings.Snapshot()[key]})
}

func (h *httpHandler) handleSubmitRegistration(c *gin.Context) {
	var input registrations.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	registration, err := h.registrations.Submit(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": registration.ID, "status": registration.Status})
}

func (h *httpHandler) handleListRegistrations(c *gin.Context) {
	var filter registrations.Status
	if raw := c.Query("status"); raw != "" {
		status, err := registrations.ParseStatus(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		filter = status
	}
	items, err := h.registrations.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	counts, err := h.registrations.CountByStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "counts": counts})
}

func (h *httpHandler) handleUpdateRegistration(c *gin.Context) {
	var payload registrationPatchPayload
	if err := c.ShouldBindJSON(&payload); err != nil || (payload.Status == nil && payload.Notes == nil) {
		respondBadRequest(c, "status or notes is required")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	var (
		updated registrations.Registration
		err     error
	)
	if payload.Status != nil {
		updated, err = h.registrations.UpdateStatus(ctx, id, registrations.Status(*payload.Status))
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	if payload.Notes != nil {
		updated, err = h.registrations.UpdateNotes(ctx, id, *payload.Notes)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteRegistration(c *gin.Context) {
	if err := h.registrations.Delete(c.Request.Context(), c.Param("id"), confirmed(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCertificates(c *gin.Context) {
	items, err := h.certificates.ListAdmin(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *httpHandler) handleGetCertificate(c *gin.Context) {
	certificate, err := h.certificates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, certificate)
}

func (h *httpHandler) handleCreateCertificate(c *gin.Context) {
	var input certificates.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	certificate, err := h.certificates.Create(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, certificate)
}

func (h *httpHandler) handleUpdateCertificate(c *gin.Context) {
	var input certificates.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	certificate, err := h.certificates.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, certificate)
}

func (h *httpHandler) handleDeleteCertificate(c *gin.Context) {
	if err := h.certificates.Delete(c.Request.Context(), c.Param("id"), confirmed(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleUploadCertificateDocument attaches an uploaded PDF to a certificate.
// The certificate service retires the document it replaces.
func (h *httpHandler) handleUploadCertificateDocument(c *gin.Context) {
	ctx := c.Request.Context()
	certificate, err := h.certificates.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	upload, ok := h.readUpload(c, "file")
	if !ok {
		return
	}
	upload.Kind = media.KindPDF
	upload.Namespace = certificateNamespace
	documentURL, err := h.uploader.Store(ctx, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.certificates.SetDocument(ctx, certificate.ID, documentURL, false)
	if err != nil {
		h.uploader.Retire(ctx, documentURL, "")
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// handleLookupCertificate is the public verification lookup. Inactive and
// missing certificates get the same answer.
func (h *httpHandler) handleLookupCertificate(c *gin.Context) {
	certificate, err := h.certificates.Lookup(c.Request.Context(), c.Param("registrationNumber"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, certificate)
}
