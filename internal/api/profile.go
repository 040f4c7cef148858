package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

const maxProfileAge = 150

var errInvalidProfile = errors.New("profile: age or gender is out of range")

type profileRequest struct {
	Profile  *models.UserProfile `json:"profile"`
	Nickname *string             `json:"nickname"`
}

func (h *Handler) handleGetProfile(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":  user.Profile,
		"nickname": user.Nickname,
	})
}

func (h *Handler) handleUpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, err)
		return
	}
	if !validProfile(req.Profile) {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, errInvalidProfile)
		return
	}
	if req.Nickname != nil {
		trimmed := strings.TrimSpace(*req.Nickname)
		req.Nickname = &trimmed
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), identityFrom(c).UserID, users.ProfileUpdate{
		Profile:  req.Profile,
		Nickname: req.Nickname,
	})
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"profile":  user.Profile,
		"nickname": user.Nickname,
	})
}

func validProfile(p *models.UserProfile) bool {
	if p == nil {
		return true
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > maxProfileAge) {
		return false
	}
	if p.Gender != nil {
		switch *p.Gender {
		case models.GenderMale, models.GenderFemale, models.GenderOther:
		default:
			return false
		}
	}
	return true
}
