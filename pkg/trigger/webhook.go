package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/schema"
)

type (
	// WebhookTrigger starts a run for every HTTP request whose body passes
	// the trigger's schema
	WebhookTrigger struct {
		schema schema.Schema
		path   string
		method string
	}

	// WebhookOption configures a WebhookTrigger
	WebhookOption func(*WebhookTrigger)
)

var ErrRouteConflict = errors.New("webhook route conflict")

const (
	TypeWebhook = "webhook"

	MsgValidationFailed = "Validation failed"
	MsgInternalError    = "Internal server error"
)

// Webhook creates a trigger bound to path. It accepts POST requests with any
// JSON body unless configured otherwise
func Webhook(path string, opts ...WebhookOption) *WebhookTrigger {
	res := &WebhookTrigger{
		schema: schema.AcceptAny(),
		path:   path,
		method: http.MethodPost,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// WithMethod sets the HTTP method the webhook answers
func WithMethod(method string) WebhookOption {
	return func(w *WebhookTrigger) {
		w.method = strings.ToUpper(method)
	}
}

// WithSchema sets the schema request bodies must satisfy
func WithSchema(s schema.Schema) WebhookOption {
	return func(w *WebhookTrigger) {
		if s != nil {
			w.schema = s
		}
	}
}

// Type returns the trigger type name
func (w *WebhookTrigger) Type() string {
	return TypeWebhook
}

// Schema returns the schema request bodies must satisfy
func (w *WebhookTrigger) Schema() schema.Schema {
	return w.schema
}

// Info describes the trigger
func (w *WebhookTrigger) Info() *api.TriggerInfo {
	return &api.TriggerInfo{
		Type:   TypeWebhook,
		Method: w.method,
		Path:   w.path,
	}
}

// Register binds the webhook's route. Each accepted request invokes the flow
// and responds with 202 and the run identifier without waiting for the run
func (w *WebhookTrigger) Register(
	f *flow.Flow, c flow.Collaborators,
) (err error) {
	defer func() {
		// gin panics on duplicate or conflicting routes
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s %s: %v",
				ErrRouteConflict, w.method, w.path, r)
		}
	}()
	c.Routes.Handle(w.method, w.path, func(gc *gin.Context) {
		w.handle(gc, f, c.Invoker)
	})
	return nil
}

func (w *WebhookTrigger) handle(
	c *gin.Context, f *flow.Flow, invoker flow.Invoker,
) {
	received := time.Now()
	body, err := c.GetRawData()
	if err != nil {
		slog.Error("Failed to read webhook body",
			log.FlowName(f.Name()),
			log.Error(err))
		internalError(c)
		return
	}

	payload, issues := w.schema.Validate(body)
	if len(issues) > 0 {
		slog.Debug("Webhook payload rejected",
			log.FlowName(f.Name()),
			slog.Int("issues", len(issues)))
		c.JSON(http.StatusBadRequest, api.ValidationErrorResponse{
			Error:  MsgValidationFailed,
			Issues: issues,
		})
		return
	}

	by := api.TriggerTrace{
		Kind: TypeWebhook,
		Data: string(body),
		Meta: &api.TriggerMeta{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Headers:    flattenHeaders(c.Request.Header),
			RemoteAddr: c.ClientIP(),
			ReceivedAt: received,
		},
	}

	id, err := invoker.Invoke(c.Request.Context(), f, payload, by)
	if err != nil {
		slog.Error("Failed to invoke flow",
			log.FlowName(f.Name()),
			log.Error(err))
		internalError(c)
		return
	}

	c.JSON(http.StatusAccepted, api.RunStartedResponse{RunID: id})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error: MsgInternalError,
	})
}

func flattenHeaders(h http.Header) map[string]string {
	res := make(map[string]string, len(h))
	for k, v := range h {
		res[k] = strings.Join(v, ", ")
	}
	return res
}
