package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/canapi/internal/registry/auth"
	"github.com/jmerrifield20/canapi/pkg/apispec"
	"github.com/jmerrifield20/canapi/pkg/source"
	"go.uber.org/zap"
)

// maxDocumentBytes bounds a published document.
const maxDocumentBytes = 1 << 20

// Store is the document storage behind the registry server.
type Store interface {
	source.Source
	List(ctx context.Context) ([]source.Entry, error)
	Publish(ctx context.Context, doc *apispec.Document, publisher string) error
}

// DocumentHandler serves and publishes API configuration documents.
type DocumentHandler struct {
	store  Store
	tokens *auth.Issuer // nil = read-only
	logger *zap.Logger
}

// NewDocumentHandler creates a DocumentHandler. tokens may be nil, in which
// case no publish routes are registered.
func NewDocumentHandler(store Store, tokens *auth.Issuer, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{store: store, tokens: tokens, logger: logger}
}

// Register registers the document routes on rg.
//
//	GET /apis                      list
//	GET /apis/{name}.json          unversioned document
//	GET /apis/{name}/{version}.json
//	PUT (same paths)               publish, Bearer publish token required
func (h *DocumentHandler) Register(rg *gin.RouterGroup) {
	apis := rg.Group("/apis")
	{
		apis.GET("", h.ListDocuments)
		apis.GET("/:name", h.GetDocument)
		apis.GET("/:name/:version", h.GetDocument)
		if h.tokens != nil {
			apis.PUT("/:name", auth.RequireToken(h.tokens), h.PublishDocument)
			apis.PUT("/:name/:version", auth.RequireToken(h.tokens), h.PublishDocument)
		}
	}
}

// documentKey extracts name and version from the route, requiring the last
// segment to carry a .json suffix.
func documentKey(c *gin.Context) (name, version string, ok bool) {
	name, version = c.Param("name"), c.Param("version")
	if version == "" {
		name, ok = strings.CutSuffix(name, ".json")
	} else {
		version, ok = strings.CutSuffix(version, ".json")
	}
	return name, version, ok && name != "" && (c.Param("version") == "" || version != "")
}

// GET /apis/:name[/:version]
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	name, version, ok := documentKey(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document paths end in .json"})
		return
	}

	doc, err := h.store.Lookup(c.Request.Context(), name, version)
	if errors.Is(err, source.ErrNotFound) {
		recordServed(false)
		c.JSON(http.StatusNotFound, gin.H{"error": "api " + source.Key(name, version) + " not found"})
		return
	}
	if err != nil {
		h.logger.Error("document lookup failed",
			zap.String("api", name),
			zap.String("version", version),
			zap.String("request_id", RequestIDFromCtx(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}

	recordServed(true)
	c.JSON(http.StatusOK, doc)
}

// GET /apis
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	entries, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	if entries == nil {
		entries = []source.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"apis": entries, "count": len(entries)})
}

// PUT /apis/:name[/:version]
func (h *DocumentHandler) PublishDocument(c *gin.Context) {
	name, version, ok := documentKey(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document paths end in .json"})
		return
	}

	claims := auth.ClaimsFromCtx(c)
	if claims == nil || !claims.Allows(name) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not allow publishing " + name})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxDocumentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return
	}

	doc, err := apispec.Decode(body, apispec.FormatJSON)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if doc.Name != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document name " + doc.Name + " does not match path " + name})
		return
	}
	if doc.Version != "" && doc.Version != version {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document version " + doc.Version + " does not match path"})
		return
	}
	doc.Version = version

	if err := h.store.Publish(c.Request.Context(), doc, claims.Subject); err != nil {
		h.logger.Error("publish failed",
			zap.String("api", name),
			zap.String("version", version),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document"})
		return
	}

	recordPublished()
	h.logger.Info("document published",
		zap.String("api", name),
		zap.String("version", version),
		zap.String("publisher", claims.Subject),
	)
	c.JSON(http.StatusCreated, gin.H{"name": name, "version": version})
}
