package rest

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/game/catalog"
	"github.com/kasuganosora/escaperoom/server/storage"
	"go.uber.org/zap"
)

// CatalogHandler handles the admin's characters, items and players.
// Routes sit behind GameHandler.OwnGame.
type CatalogHandler struct {
	cat    *catalog.Service
	store  storage.Store
	logger *zap.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(cat *catalog.Service, store storage.Store, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{cat: cat, store: store, logger: logger}
}

// ---- characters ----

// CreateCharacter handles POST /api/games/:id/characters.
func (h *CatalogHandler) CreateCharacter(c *gin.Context) {
	var in catalog.CharacterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ch, err := h.cat.CreateCharacter(c.Request.Context(), currentGame(c).ID, in)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// ListCharacters handles GET /api/games/:id/characters.
func (h *CatalogHandler) ListCharacters(c *gin.Context) {
	chars, err := h.cat.ListCharacters(c.Request.Context(), currentGame(c).ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

// UpdateCharacter handles PATCH /api/games/:id/characters/:cid.
func (h *CatalogHandler) UpdateCharacter(c *gin.Context) {
	var patch catalog.CharacterPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	ch, err := h.cat.UpdateCharacter(c.Request.Context(), currentGame(c).ID, c.Param("cid"), patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// DeleteCharacter handles DELETE /api/games/:id/characters/:cid.
func (h *CatalogHandler) DeleteCharacter(c *gin.Context) {
	if err := h.cat.DeleteCharacter(c.Request.Context(), currentGame(c).ID, c.Param("cid")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ImportCharacters handles POST /api/games/:id/characters/import. The CSV
// is either the multipart field "file" or the raw request body.
func (h *CatalogHandler) ImportCharacters(c *gin.Context) {
	body := c.Request.Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer f.Close()
		body = f
	}
	chars, err := h.cat.ImportCharacters(c.Request.Context(), currentGame(c).ID, body)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"characters": chars, "count": len(chars)})
}

// UploadImage handles POST /api/games/:id/characters/:cid/images/:kind with
// the image in multipart field "file".
func (h *CatalogHandler) UploadImage(c *gin.Context) {
	kind := catalog.ImageKind(c.Param("kind"))
	if kind != catalog.ImageProfile && kind != catalog.ImageEmblem {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image kind must be profile or emblem"})
		return
	}
	gameID, charID := currentGame(c).ID, c.Param("cid")
	if _, err := h.cat.GetCharacter(c.Request.Context(), gameID, charID); err != nil {
		fail(c, h.logger, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()

	url, err := h.store.Upload(c.Request.Context(), path.Join("games", gameID, "characters", charID, string(kind)), f)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ch, err := h.cat.SetCharacterImage(c.Request.Context(), gameID, charID, kind, url)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// ---- items ----

// CreateItem handles POST /api/games/:id/items.
func (h *CatalogHandler) CreateItem(c *gin.Context) {
	var in catalog.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	it, err := h.cat.CreateItem(c.Request.Context(), currentGame(c).ID, in)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// ListItems handles GET /api/games/:id/items.
func (h *CatalogHandler) ListItems(c *gin.Context) {
	items, err := h.cat.ListItems(c.Request.Context(), currentGame(c).ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// UpdateItem handles PATCH /api/games/:id/items/:iid.
func (h *CatalogHandler) UpdateItem(c *gin.Context) {
	var patch catalog.ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	it, err := h.cat.UpdateItem(c.Request.Context(), currentGame(c).ID, c.Param("iid"), patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// DeleteItem handles DELETE /api/games/:id/items/:iid.
func (h *CatalogHandler) DeleteItem(c *gin.Context) {
	if err := h.cat.DeleteItem(c.Request.Context(), currentGame(c).ID, c.Param("iid")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- players ----

// ListPlayers handles GET /api/games/:id/players.
func (h *CatalogHandler) ListPlayers(c *gin.Context) {
	players, err := h.cat.ListPlayers(c.Request.Context(), currentGame(c).ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": players})
}

type banRequest struct {
	// Banned defaults to true.
	Banned *bool `json:"banned"`
}

// BanPlayer handles POST /api/games/:id/players/:pid/ban.
func (h *CatalogHandler) BanPlayer(c *gin.Context) {
	var req banRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	banned := req.Banned == nil || *req.Banned
	p, err := h.cat.SetBanned(c.Request.Context(), currentGame(c).ID, c.Param("pid"), banned)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
