package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/ledger"
)

type pointsBody struct {
	clientTime
	SevakID string `json:"sevak_id"`
	Points  int    `json:"points"`
	Note    string `json:"note"`
}

func (h *Handler) addPoints(c *gin.Context)    { h.points(c, h.svc.AddPoints) }
func (h *Handler) deductPoints(c *gin.Context) { h.points(c, h.svc.DeductPoints) }

func (h *Handler) points(c *gin.Context, apply func(context.Context, ledger.PointsRequest) (ledger.BalanceChange, error)) {
	var body pointsBody
	if !bind(c, &body) {
		return
	}
	if body.Points != h.step {
		fail(c, badRequest(fmt.Sprintf("points must be exactly %d", h.step)))
		return
	}
	dt, err := h.deviceTime(body.clientTime)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := apply(c.Request.Context(), ledger.PointsRequest{
		SevakID:    body.SevakID,
		Amount:     body.Points,
		Note:       body.Note,
		Actor:      auth.ActorFrom(c),
		DeviceTime: dt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"result": res})
}

type attendanceBody struct {
	clientTime
	SevakID string `json:"sevak_id"`
}

func (h *Handler) markAttendance(c *gin.Context) {
	var body attendanceBody
	if !bind(c, &body) {
		return
	}
	dt, err := h.deviceTime(body.clientTime)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.svc.MarkAttendance(c.Request.Context(), ledger.AttendanceRequest{
		SevakID:    body.SevakID,
		Actor:      auth.ActorFrom(c),
		DeviceTime: dt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"result": res})
}

type feedbackBody struct {
	clientTime
	SevakID  string `json:"sevak_id"`
	Feedback string `json:"feedback"`
}

func (h *Handler) submitFeedback(c *gin.Context) {
	var body feedbackBody
	if !bind(c, &body) {
		return
	}
	dt, err := h.deviceTime(body.clientTime)
	if err != nil {
		fail(c, err)
		return
	}
	id, err := h.svc.SubmitFeedback(c.Request.Context(), ledger.FeedbackRequest{
		SevakID:    body.SevakID,
		Body:       body.Feedback,
		Actor:      auth.ActorFrom(c),
		DeviceTime: dt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"feedback_id": id})
}

// listFeedback returns one participant's feedback when sevak_id is given,
// otherwise the per-participant overview with totals.
func (h *Handler) listFeedback(c *gin.Context) {
	ctx := c.Request.Context()
	if id := c.Query("sevak_id"); id != "" {
		fb, err := h.svc.FeedbackFor(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"feedback": fb})
		return
	}
	groups, err := h.svc.FeedbackBySevak(ctx, gender(c.Query("gender")))
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := h.svc.FeedbackStats(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sevaks": groups, "stats": stats})
}
