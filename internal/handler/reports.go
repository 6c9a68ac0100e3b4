package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/ledger"
)

const maxUploadBytes = 5 << 20

func (h *Handler) leaderboard(c *gin.Context) {
	rows, err := h.svc.Leaderboard(c.Request.Context(), ledger.LeaderboardFilter{Gender: gender(c.Query("gender"))})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"leaderboard": rows})
}

// staffActivity summarises every staff member, or lists one member's
// transactions when email is given. from and to are YYYY-MM-DD.
func (h *Handler) staffActivity(c *gin.Context) {
	var f ledger.ActivityFilter
	var err error
	if f.From, err = h.date(c.Query("from")); err != nil {
		fail(c, err)
		return
	}
	if f.To, err = h.date(c.Query("to")); err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if email := c.Query("email"); email != "" {
		txs, err := h.svc.StaffTransactions(ctx, email, f)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"email": email, "transactions": txs})
		return
	}
	rows, err := h.svc.StaffActivity(ctx, f)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"staff": rows})
}

func (h *Handler) date(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	loc := h.clock.Zone
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, badRequest("dates must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) createImport(c *gin.Context) {
	var ct clientTime
	if err := c.ShouldBind(&ct); err != nil {
		fail(c, badRequest("invalid form"))
		return
	}
	dt, err := h.deviceTime(ct)
	if err != nil {
		fail(c, err)
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, badRequest("file field required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		fail(c, err)
		return
	}
	if len(data) > maxUploadBytes {
		fail(c, badRequest("file is larger than 5MB"))
		return
	}
	st, err := h.submit.Submit(c.Request.Context(), header.Filename, data, auth.ActorFrom(c), dt)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"import": st})
}

func (h *Handler) getImport(c *gin.Context) {
	st, found, err := h.reports.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "import not found"})
		return
	}
	ok(c, http.StatusOK, gin.H{"import": st})
}
