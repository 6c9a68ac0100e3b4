// Package handler exposes the ledger over HTTP.
package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/importer"
	"sevakpoints/internal/ledger"
)

// Handler serves the /v1 routes.
type Handler struct {
	svc     *ledger.Service
	clock   ledger.DeviceClock
	step    int
	submit  *importer.Submitter
	reports *importer.Reports
}

type Option func(*Handler)

// WithImports enables the bulk import routes.
func WithImports(s *importer.Submitter, r *importer.Reports) Option {
	return func(h *Handler) {
		h.submit = s
		h.reports = r
	}
}

// New builds a Handler. step is the only amount the points routes accept.
func New(svc *ledger.Service, clock ledger.DeviceClock, step int, opts ...Option) *Handler {
	h := &Handler{svc: svc, clock: clock, step: step}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the routes on g, which must already run auth.Identity.
func (h *Handler) Register(g *gin.RouterGroup) {
	admin := auth.RequireRole(auth.RoleAdmin)
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleInspector)

	g.POST("/participants", admin, h.createParticipant)
	g.GET("/participants", admin, h.listParticipants)
	g.GET("/participants/:sevak_id", staff, h.getParticipant)
	g.PUT("/participants/:sevak_id", admin, h.updateParticipant)
	g.DELETE("/participants/:sevak_id", admin, h.deactivateParticipant)
	g.DELETE("/participants/:sevak_id/purge", admin, h.purgeParticipant)
	g.GET("/participants/:sevak_id/history", admin, h.history)

	g.POST("/points/add", staff, h.addPoints)
	g.POST("/points/deduct", staff, h.deductPoints)
	g.POST("/attendance", staff, h.markAttendance)
	g.POST("/feedback", staff, h.submitFeedback)
	g.GET("/feedback", admin, h.listFeedback)

	g.GET("/leaderboard", admin, h.leaderboard)
	g.GET("/staff-activity", admin, h.staffActivity)

	if h.submit != nil {
		g.POST("/imports", admin, h.createImport)
		g.GET("/imports/:id", admin, h.getImport)
	}
}

// clientTime is the device clock block every mutating request carries.
type clientTime struct {
	DeviceTime string `json:"device_time" form:"device_time"`
	Hour       *int   `json:"hour" form:"hour"`
	Minute     *int   `json:"minute" form:"minute"`
}

func (h *Handler) deviceTime(ct clientTime) (ledger.DeviceTime, error) {
	if ct.Hour != nil || ct.Minute != nil {
		if ct.Hour == nil || ct.Minute == nil {
			return ledger.DeviceTime{}, badRequest("hour and minute must be sent together")
		}
		return h.clock.ParseWithClock(ct.DeviceTime, *ct.Hour, *ct.Minute)
	}
	return h.clock.Parse(ct.DeviceTime)
}

// gender accepts m/f shorthands in any case. Anything else is passed
// through so the ledger rejects it.
func gender(s string) ledger.Gender {
	if g, ok := ledger.ParseGender(s); ok {
		return g
	}
	return ledger.Gender(s)
}

func badRequest(msg string) error {
	return &ledger.Error{Kind: ledger.KindValidation, Msg: msg}
}

func statusOf(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindConflict, ledger.KindCapacity:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"success": false, "error": ledger.PublicMessage(err)})
}

func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

// bind decodes a JSON body. Malformed bodies are validation errors.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, badRequest("invalid request body"))
		return false
	}
	return true
}
