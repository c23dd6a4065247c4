// Session HTTP handlers.
//
// This file exposes the capture-session control surface:
//   - GET  /session                   (phase snapshot)
//   - POST /session/start             (begin a session)
//   - POST /session/stop              (tear the session down)
//   - POST /session/pause             (suppress detections, keep hardware)
//   - POST /session/resume            (re-enable detections)
//   - POST /session/detections        (inject a barcode observation)
//
// Handlers are transport-thin: they validate input, call the session
// runner or device, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearmeat/go-scan-core/internal/capture"
	"github.com/clearmeat/go-scan-core/internal/domain"
	"github.com/clearmeat/go-scan-core/internal/lookup"
	"github.com/clearmeat/go-scan-core/internal/session"
)

//
// Service contracts
//

// SessionController drives the capture session. Implemented by the session
// runner; commands are posted to the event loop and settle asynchronously.
type SessionController interface {
	Start(ctx context.Context)
	End(ctx context.Context)
	Pause()
	Resume()
	Paused() bool
	Phase() session.Phase
}

// DetectionInjector feeds decoded barcodes into the capture device.
// Implemented by capture.ManualDevice.
type DetectionInjector interface {
	Inject(code string) error
}

// LookupService resolves product codes and ingredient ids. Implemented by
// the lookup coordinator.
type LookupService interface {
	Lookup(ctx context.Context, code string) lookup.Outcome
	IngredientDetail(ctx context.Context, id string) (*domain.IngredientAnalysis, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for the session, lookups, and cache
// administration. It depends on abstract contracts to keep transport
// concerns separate from the pipeline.
type Handlers struct {
	sess    SessionController
	dev     DetectionInjector
	lookups LookupService
	caches  CacheAdmin
}

// New constructs a Handlers instance bound to the given collaborators.
func New(sess SessionController, dev DetectionInjector, lookups LookupService, caches CacheAdmin) *Handlers {
	return &Handlers{sess: sess, dev: dev, lookups: lookups, caches: caches}
}

// phaseResponse is the JSON shape of a session phase snapshot.
type phaseResponse struct {
	Phase   string `json:"phase"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Paused  bool   `json:"paused"`
}

func snapshot(sess SessionController) phaseResponse {
	p := sess.Phase()
	return phaseResponse{
		Phase:   p.Kind.String(),
		Code:    p.Code,
		Message: p.Message,
		Paused:  sess.Paused(),
	}
}

// GetSession returns the current phase snapshot.
func (h *Handlers) GetSession(c *gin.Context) {
	ok(c, snapshot(h.sess))
}

// StartSession begins a capture session. The permission prompt and stream
// bring-up settle asynchronously; poll GET /session for progress.
func (h *Handlers) StartSession(c *gin.Context) {
	h.sess.Start(c.Request.Context())
	accepted(c, snapshot(h.sess))
}

// StopSession tears the session down from any phase.
func (h *Handlers) StopSession(c *gin.Context) {
	h.sess.End(c.Request.Context())
	accepted(c, snapshot(h.sess))
}

// PauseSession suppresses detection delivery while a result is on screen.
func (h *Handlers) PauseSession(c *gin.Context) {
	h.sess.Pause()
	noContent(c)
}

// ResumeSession re-enables detection delivery.
func (h *Handlers) ResumeSession(c *gin.Context) {
	h.sess.Resume()
	noContent(c)
}

// detectionRequest is the body of POST /session/detections.
type detectionRequest struct {
	Code string `json:"code"`
}

// PostDetection injects a barcode observation into the capture device, as if
// the hardware had decoded it. This is the driver seam used by development
// clients and tests; it goes through the same bridge, pause gating, and
// session loop as a real scanner.
func (h *Handlers) PostDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		Fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, "code must not be empty")
		return
	}

	if err := h.dev.Inject(req.Code); err != nil {
		if errors.Is(err, capture.ErrNotOpen) {
			Fail(c, http.StatusConflict, ErrCodeStreamInactive, "capture stream is not active")
			return
		}
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "detection delivery failed")
		return
	}
	accepted(c, gin.H{"code": domain.NormalizeCode(req.Code)})
}
