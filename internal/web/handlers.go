package web

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hpungsan/tilth/internal/app"
	"github.com/hpungsan/tilth/internal/drain"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/netstatus"
	"github.com/hpungsan/tilth/internal/queue"
)

// Handlers contains the HTTP route handlers.
type Handlers struct {
	app     *app.App
	version string
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	app.Status
	Version string `json:"version"`
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: h.app.Status(), Version: h.version})
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Items []queue.Entry `json:"items"`
	Count int           `json:"count"`
}

// HandleQueue handles GET /api/queue: pending actions, oldest first.
func (h *Handlers) HandleQueue(c *gin.Context) {
	items, err := h.app.Queue.ListPending(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Items: items, Count: len(items)})
}

// HandleSync handles POST /api/sync: an explicit drain pass.
func (h *Handlers) HandleSync(c *gin.Context) {
	res, err := h.app.Sync(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type connectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// ConnectivityResponse is the body of PUT /api/connectivity.
type ConnectivityResponse struct {
	Status app.Status    `json:"status"`
	Drain  *drain.Result `json:"drain,omitempty"`
}

// HandleConnectivity handles PUT /api/connectivity. The host reports the
// device's connectivity; going online drains the queue before replying.
func (h *Handlers) HandleConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.NewInvalidRequest("body must be {\"online\": bool}"))
		return
	}
	res, err := h.app.SetOnline(c.Request.Context(), *req.Online)
	if err != nil && !stderrors.Is(err, drain.ErrDrainInProgress) {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConnectivityResponse{Status: h.app.Status(), Drain: res})
}

// KnowledgeResponse is the body of GET /api/knowledge.
type KnowledgeResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	HTML     string   `json:"html"`
	Related  []string `json:"related,omitempty"`
	Likes    int      `json:"likes"`
	Dislikes int      `json:"dislikes"`
}

// HandleKnowledge handles GET /api/knowledge?q=. Offline it answers only
// exact cached questions.
func (h *Handlers) HandleKnowledge(c *gin.Context) {
	q := c.Query("q")
	answer, err := h.app.Knowledge.Ask(c.Request.Context(), h.app.User(), q)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, KnowledgeResponse{
		Question: answer.Question,
		Answer:   answer.Answer,
		HTML:     renderMarkdown(answer.Answer),
		Related:  answer.Related,
		Likes:    answer.Likes,
		Dislikes: answer.Dislikes,
	})
}

// renderError writes err as {"error": {code, message, status}}.
func renderError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, netstatus.ErrOffline):
		c.JSON(http.StatusConflict, errorBody("OFFLINE", err.Error(), http.StatusConflict))
		return
	case stderrors.Is(err, drain.ErrDrainInProgress):
		c.JSON(http.StatusConflict, errorBody("DRAIN_IN_PROGRESS", err.Error(), http.StatusConflict))
		return
	}

	var tErr *errors.TilthError
	if !stderrors.As(err, &tErr) {
		tErr = errors.NewInternal(err)
	}
	c.JSON(tErr.Status, errorBody(string(tErr.Code), tErr.Message, tErr.Status))
}

func errorBody(code, message string, status int) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message, "status": status}}
}
