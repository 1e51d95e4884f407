package server

import (
	"bytes"
	"encoding/base64"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/annotate"
)

const maxAnnotationImageBytes = 4 << 20

type openAnnotationPayload struct {
	CertificateID string `json:"certificate_id"`
}

// objectPayload is an Object plus, for images, the picture as base64 or a
// data URL.
type objectPayload struct {
	annotate.Object
	ImageData string `json:"image_data"`
}

func (h *httpHandler) handleOpenAnnotation(c *gin.Context) {
	var payload openAnnotationPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.CertificateID) == "" {
		respondBadRequest(c, "certificate_id is required")
		return
	}
	view, err := h.annotations.Open(c.Request.Context(), payload.CertificateID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleAnnotationView(c *gin.Context) {
	h.editAnnotation(c, func(*annotate.Canvas) error { return nil })
}

func (h *httpHandler) handleCloseAnnotation(c *gin.Context) {
	h.annotations.Close(c.Param("sid"))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddObject(c *gin.Context) {
	var payload objectPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	object := payload.Object
	switch object.Kind {
	case annotate.KindText:
		h.editAnnotation(c, func(canvas *annotate.Canvas) error {
			_, err := canvas.AddText(object)
			return err
		})
	case annotate.KindRect:
		h.editAnnotation(c, func(canvas *annotate.Canvas) error {
			_, err := canvas.AddRect(object)
			return err
		})
	case annotate.KindLine:
		h.editAnnotation(c, func(canvas *annotate.Canvas) error {
			_, err := canvas.AddLine(object)
			return err
		})
	case annotate.KindImage:
		picture, err := decodeImageData(payload.ImageData)
		if err != nil {
			respondBadRequest(c, "image_data must be a base64 encoded PNG, JPEG or GIF")
			return
		}
		h.editAnnotation(c, func(canvas *annotate.Canvas) error {
			_, err := canvas.AddImage(picture, object.X, object.Y)
			return err
		})
	default:
		respondBadRequest(c, "kind must be text, image, rect or line")
	}
}

func (h *httpHandler) handleModifyObject(c *gin.Context) {
	var update annotate.Object
	if err := c.ShouldBindJSON(&update); err != nil {
		respondBadRequest(c, "body must be a JSON object")
		return
	}
	objectID := c.Param("oid")
	h.editAnnotation(c, func(canvas *annotate.Canvas) error {
		_, err := canvas.Modify(objectID, update)
		return err
	})
}

func (h *httpHandler) handleRemoveObject(c *gin.Context) {
	objectID := c.Param("oid")
	h.editAnnotation(c, func(canvas *annotate.Canvas) error {
		return canvas.Remove(objectID)
	})
}

// Undo and redo past either end of the history leave the canvas as it is.
func (h *httpHandler) handleUndo(c *gin.Context) {
	h.editAnnotation(c, func(canvas *annotate.Canvas) error {
		canvas.Undo()
		return nil
	})
}

func (h *httpHandler) handleRedo(c *gin.Context) {
	h.editAnnotation(c, func(canvas *annotate.Canvas) error {
		canvas.Redo()
		return nil
	})
}

func (h *httpHandler) handleClear(c *gin.Context) {
	h.editAnnotation(c, func(canvas *annotate.Canvas) error {
		canvas.Clear()
		return nil
	})
}

func (h *httpHandler) handlePreview(c *gin.Context) {
	png, err := h.annotations.Preview(c.Param("sid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *httpHandler) handleSaveAnnotation(c *gin.Context) {
	certificate, err := h.annotations.Save(c.Request.Context(), c.Param("sid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, certificate)
}

func (h *httpHandler) editAnnotation(c *gin.Context, fn func(*annotate.Canvas) error) {
	view, err := h.annotations.Edit(c.Param("sid"), fn)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func decodeImageData(raw string) (image.Image, error) {
	raw = strings.TrimSpace(raw)
	if comma := strings.IndexByte(raw, ','); strings.HasPrefix(raw, "data:") && comma >= 0 {
		raw = raw[comma+1:]
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > maxAnnotationImageBytes {
		return nil, annotate.ErrInvalidObject
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	return imaging.Decode(bytes.NewReader(data))
}
