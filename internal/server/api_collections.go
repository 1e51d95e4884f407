package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/qrcode"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	qrLinksCollection = "qr_code_links"
	defaultNamespace  = "uploads"
	// multipart overhead allowed on top of the largest accepted file
	uploadEnvelopeBytes = 1 << 20
)

type togglePayload struct {
	IsActive *bool `json:"is_active"`
}

type movePayload struct {
	Direction string `json:"direction"`
}

func (h *httpHandler) resource(c *gin.Context) (content.Resource, bool) {
	resource, err := h.collections.Resource(c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return resource, true
}

func (h *httpHandler) handlePublicCollection(c *gin.Context) {
	h.listCollection(c, content.ScopePublic)
}

func (h *httpHandler) handleAdminCollection(c *gin.Context) {
	h.listCollection(c, content.ScopeAdmin)
}

func (h *httpHandler) listCollection(c *gin.Context, scope content.Scope) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	rows, err := resource.Rows(c.Request.Context(), scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func (h *httpHandler) handleSchemas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collections": h.collections.Schemas()})
}

func (h *httpHandler) handleCreateItem(c *gin.Context) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	var values editor.Values
	if err := c.ShouldBindJSON(&values); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	row, err := resource.CreateRow(c.Request.Context(), values)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *httpHandler) handleUpdateItem(c *gin.Context) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	var values editor.Values
	if err := c.ShouldBindJSON(&values); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	row, err := resource.UpdateRow(c.Request.Context(), c.Param("id"), values)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	if err := resource.Delete(c.Request.Context(), c.Param("id"), confirmed(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleToggleItem(c *gin.Context) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	var payload togglePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.IsActive == nil {
		respondBadRequest(c, "is_active with the current value is required")
		return
	}
	row, err := resource.ToggleRow(c.Request.Context(), c.Param("id"), *payload.IsActive)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *httpHandler) handleMoveItem(c *gin.Context) {
	resource, ok := h.resource(c)
	if !ok {
		return
	}
	var payload movePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "direction is required")
		return
	}
	direction, err := content.ParseDirection(payload.Direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	moved, err := resource.Move(c.Request.Context(), c.Param("id"), direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func (h *httpHandler) handleIcons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"icons": editor.Icons(c.Query("q"))})
}

func (h *httpHandler) handleEmojis(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"emojis": editor.Emojis()})
}

// handleUpload stores a picked file. Type and size are checked before the
// store is contacted. The image the file replaces is retired when the row
// saving the new URL commits, not here.
func (h *httpHandler) handleUpload(c *gin.Context) {
	upload, ok := h.readUpload(c, "file")
	if !ok {
		return
	}
	upload.Kind = media.Kind(c.DefaultPostForm("kind", string(media.KindImage)))
	upload.Namespace = c.DefaultPostForm("namespace", defaultNamespace)
	if upload.Kind == media.KindDocument {
		respondBadRequest(c, "kind must be image or pdf")
		return
	}
	if err := media.Check(upload); err != nil {
		h.respondError(c, err)
		return
	}
	publicURL, err := h.uploader.Store(c.Request.Context(), upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": publicURL})
}

// readUpload caps the request body and reads one multipart file.
func (h *httpHandler) readUpload(c *gin.Context, field string) (media.Upload, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, media.MaxPDFBytes+uploadEnvelopeBytes)
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.respondError(c, media.ErrTooLarge)
			return media.Upload{}, false
		}
		respondBadRequest(c, "multipart field "+field+" is required")
		return media.Upload{}, false
	}
	file, err := header.Open()
	if err != nil {
		respondBadRequest(c, "uploaded file cannot be read")
		return media.Upload{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondBadRequest(c, "uploaded file cannot be read")
		return media.Upload{}, false
	}
	return media.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true
}

// handleLinkQRCode renders the QR code of an active client link.
func (h *httpHandler) handleLinkQRCode(c *gin.Context) {
	links, err := content.Lookup[content.QRCodeLink](h.collections, qrLinksCollection)
	if err != nil {
		h.respondError(c, err)
		return
	}
	link, err := links.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !link.IsActive {
		h.respondError(c, content.ErrNotFound)
		return
	}
	payload := qrcode.LinkPayload(link.Link, link.WhatsAppNumber)
	png, err := qrcode.Encode(payload, cast.ToInt(c.Query("size")))
	if err != nil {
		h.logger.Warn("qr code encoding failed", zap.String("link_id", link.ID), zap.Error(err))
		respondBadRequest(c, err.Error())
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func confirmed(c *gin.Context) bool {
	return cast.ToBool(strings.TrimSpace(c.Query("confirm")))
}
