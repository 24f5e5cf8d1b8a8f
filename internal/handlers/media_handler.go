package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/models"
	"github.com/mediavault/backend/internal/services"
	"github.com/mediavault/backend/internal/storage"
	"github.com/mediavault/backend/pkg/signedurl"
)

type MediaHandler struct {
	uploads *services.UploadService
	repo    services.MediaRepository
	driver  storage.Driver
	thumbs  *services.Thumbnailer
	issuer  *signedurl.Issuer
	log     zerolog.Logger
}

func NewMediaHandler(uploads *services.UploadService, repo services.MediaRepository, driver storage.Driver, thumbs *services.Thumbnailer, issuer *signedurl.Issuer, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		uploads: uploads,
		repo:    repo,
		driver:  driver,
		thumbs:  thumbs,
		issuer:  issuer,
		log:     log.With().Str("component", "media-handler").Logger(),
	}
}

// Upload handles a single media upload.
// POST /media
// Multipart form: file (required), public (optional, "true"/"false")
func (h *MediaHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	result := h.uploads.Upload(c.Request.Context(), services.UploadInput{
		Body:         file,
		OriginalName: header.Filename,
		UploadedBy:   c.GetString("user_id"),
		IsPublic:     c.PostForm("public") == "true",
	})

	switch result.Status {
	case services.UploadStored:
		c.JSON(http.StatusCreated, result)
	case services.UploadDeduped:
		c.JSON(http.StatusOK, result)
	case services.UploadRejected:
		c.JSON(http.StatusUnprocessableEntity, result)
	default:
		c.JSON(http.StatusInternalServerError, result)
	}
}

// GetMetadata returns the stored record for one object. Private records are
// only visible to an identified caller.
// GET /media/:id
func (h *MediaHandler) GetMetadata(c *gin.Context) {
	obj := h.lookup(c)
	if obj == nil {
		return
	}
	if !h.authorizeCaller(c, obj) {
		return
	}
	c.JSON(http.StatusOK, obj)
}

// IssueURL mints a signed link for a private object. Only an identified
// caller may mint; anonymous requests cannot use this to confirm an ID or
// obtain access.
// POST /media/:id/url  body: {"purpose": "file" | "thumb:<variant>"}
func (h *MediaHandler) IssueURL(c *gin.Context) {
	obj := h.lookup(c)
	if obj == nil {
		return
	}
	if !h.authorizeCaller(c, obj) {
		return
	}

	var req struct {
		Purpose string `json:"purpose" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "purpose is required"})
		return
	}

	query, err := h.issuer.Issue(obj.ID.String(), req.Purpose, obj.PublicToken, 0)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signed urls are not enabled"})
		return
	}

	path := "/api/v1/media/" + obj.ID.String() + "/file"
	if variant, ok := strings.CutPrefix(req.Purpose, "thumb:"); ok {
		path = "/api/v1/media/" + obj.ID.String() + "/thumb/" + variant
	}
	c.JSON(http.StatusOK, gin.H{"url": path + "?" + query.Encode()})
}

// ServeFile streams the original object. Public objects are open; private
// objects need a valid (exp, sig, p) query signed for purpose "file".
// GET /media/:id/file
func (h *MediaHandler) ServeFile(c *gin.Context) {
	obj := h.lookup(c)
	if obj == nil {
		return
	}
	if !h.authorize(c, obj, "file") {
		return
	}

	body, err := h.driver.Get(c.Request.Context(), obj.DiskPath)
	if err != nil {
		h.log.Error().Err(err).Str("disk_path", obj.DiskPath).Msg("object read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve object"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", obj.MimeType)
	c.Header("Cache-Control", cacheControlFor(obj))
	c.Header("Content-Disposition", "inline; filename=\""+sanitizeFilename(obj.OriginalName)+"\"")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

// ServeThumb streams one thumbnail variant. Authorization mirrors ServeFile
// but the purpose is scoped to the variant, so a file token cannot fetch
// thumbs and vice versa.
// GET /media/:id/thumb/:variant
func (h *MediaHandler) ServeThumb(c *gin.Context) {
	obj := h.lookup(c)
	if obj == nil {
		return
	}
	variant := c.Param("variant")
	if !h.authorize(c, obj, "thumb:"+variant) {
		return
	}

	thumbPath := h.thumbs.ThumbPathFor(obj, variant)
	body, err := h.driver.Get(c.Request.Context(), thumbPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thumbnail not available"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", "image/jpeg")
	c.Header("Cache-Control", cacheControlFor(obj))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

// Delete removes the object from storage first, then the record. A storage
// delete of an already-missing object still succeeds, so retries converge.
// DELETE /media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	obj := h.lookup(c)
	if obj == nil {
		return
	}

	if ok := h.driver.Delete(c.Request.Context(), obj.DiskPath); !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete object"})
		return
	}
	if err := h.repo.Delete(c.Request.Context(), obj.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "media deleted successfully"})
}

// lookup resolves :id to a ready object, writing the error response itself
// and returning nil when the caller should stop.
func (h *MediaHandler) lookup(c *gin.Context) *models.MediaObject {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media ID"})
		return nil
	}
	obj, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return nil
	}
	if obj == nil || obj.Status != models.MediaStatusReady {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return nil
	}
	return obj
}

// authorize enforces access for serving: public objects pass, private ones
// need a signature valid for exactly this purpose. Responds 404 rather than
// 403 so private IDs are not confirmable.
func (h *MediaHandler) authorize(c *gin.Context, obj *models.MediaObject, purpose string) bool {
	if obj.IsPublic {
		return true
	}
	err := h.issuer.Validate(obj.ID.String(), c.Query("exp"), purpose, obj.PublicToken, c.Query("sig"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return false
	}
	return true
}

// authorizeCaller gates metadata and link minting for private objects: the
// caller must carry an identity set by the auth middleware upstream, the
// same source Upload trusts for user_id. Responds 404 like authorize so
// private IDs are not confirmable.
func (h *MediaHandler) authorizeCaller(c *gin.Context, obj *models.MediaObject) bool {
	if obj.IsPublic {
		return true
	}
	if c.GetString("user_id") == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return false
	}
	return true
}

func cacheControlFor(obj *models.MediaObject) string {
	if obj.IsPublic {
		return "public, max-age=31536000"
	}
	return "private, max-age=0, no-cache"
}

// sanitizeFilename strips characters that would break the quoted
// Content-Disposition value.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
}
