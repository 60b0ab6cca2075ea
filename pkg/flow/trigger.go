package flow

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/schema"
)

type (
	// Trigger starts runs of a flow in response to external events
	Trigger interface {
		Type() string
		Schema() schema.Schema
		Info() *api.TriggerInfo
		Register(f *Flow, c Collaborators) error
	}

	// Invoker starts a run of a flow without waiting for it to finish
	Invoker interface {
		Invoke(
			ctx context.Context, f *Flow, payload any, by api.TriggerTrace,
		) (api.RunID, error)
	}

	// Collaborators are the services a trigger binds to when activated
	Collaborators struct {
		Routes  gin.IRoutes
		Invoker Invoker
	}
)
