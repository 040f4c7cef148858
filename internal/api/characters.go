package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/wwb.chat/internal/persona"
)

func (h *Handler) handleCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"characters": h.personas.All()})
}

func (h *Handler) handleCharacterImage(c *gin.Context) {
	path, err := h.personas.ImagePath(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, codeNotFound, err)
		return
	}

	c.Header("Content-Type", persona.ImageContentType(path))
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}
