package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/ledger"
)

type participantBody struct {
	clientTime
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

func (h *Handler) createParticipant(c *gin.Context) {
	var body participantBody
	if !bind(c, &body) {
		return
	}
	dt, err := h.deviceTime(body.clientTime)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := h.svc.CreateParticipant(c.Request.Context(), ledger.NewParticipant{
		Name:       body.Name,
		Gender:     gender(body.Gender),
		Actor:      auth.ActorFrom(c),
		DeviceTime: dt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"sevak": p})
}

func (h *Handler) updateParticipant(c *gin.Context) {
	var body participantBody
	if !bind(c, &body) {
		return
	}
	dt, err := h.deviceTime(body.clientTime)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := h.svc.UpdateParticipant(c.Request.Context(), ledger.ParticipantUpdate{
		SevakID:    c.Param("sevak_id"),
		Name:       body.Name,
		Gender:     gender(body.Gender),
		DeviceTime: dt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sevak": p})
}

// deactivateParticipant reads the device clock from the query string.
func (h *Handler) deactivateParticipant(c *gin.Context) {
	var ct clientTime
	if err := c.ShouldBindQuery(&ct); err != nil {
		fail(c, badRequest("invalid query"))
		return
	}
	dt, err := h.deviceTime(ct)
	if err != nil {
		fail(c, err)
		return
	}
	id := c.Param("sevak_id")
	if err := h.svc.DeactivateParticipant(c.Request.Context(), id, dt); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "sevak deactivated"})
}

func (h *Handler) purgeParticipant(c *gin.Context) {
	if err := h.svc.PurgeParticipant(c.Request.Context(), c.Param("sevak_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "sevak and history deleted"})
}

func (h *Handler) getParticipant(c *gin.Context) {
	p, err := h.svc.GetParticipant(c.Request.Context(), c.Param("sevak_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sevak": p})
}

func (h *Handler) listParticipants(c *gin.Context) {
	ps, err := h.svc.ListParticipants(c.Request.Context(), gender(c.Query("gender")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sevaks": ps})
}

func (h *Handler) history(c *gin.Context) {
	hist, err := h.svc.History(c.Request.Context(), c.Param("sevak_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"history": hist})
}
