package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit/pkg/api"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrStepNotFound = errors.New("step not found")
	ErrListRuns     = errors.New("failed to list runs")
	ErrGetRun       = errors.New("failed to get run")
	ErrDeleteRun    = errors.New("failed to delete run")
	ErrListSteps    = errors.New("failed to list steps")
	ErrGetStep      = errors.New("failed to get step")
)

func (s *Server) listRuns(c *gin.Context) {
	var (
		runs []*api.FlowRunTrace
		err  error
	)
	if name := c.Query("name"); name != "" {
		runs, err = s.tracer.Runs().GetByName(c.Request.Context(), name)
	} else {
		runs, err = s.tracer.Runs().GetAll(c.Request.Context())
	}
	if err != nil {
		internalError(c, ErrListRuns, err)
		return
	}

	c.JSON(http.StatusOK, api.RunsListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) deleteRun(c *gin.Context) {
	runID := api.RunID(c.Param("runID"))

	removed, err := s.tracer.RemoveRun(c.Request.Context(), runID)
	if err != nil {
		internalError(c, ErrDeleteRun, err)
		return
	}
	if !removed {
		notFound(c, ErrRunNotFound, string(runID))
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "Run deleted",
	})
}

func (s *Server) listSteps(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}

	steps, err := s.tracer.Steps(run.ID).GetAll(c.Request.Context())
	if err != nil {
		internalError(c, ErrListSteps, err)
		return
	}

	byID := make(map[string]*api.StepTrace, len(steps))
	for _, st := range steps {
		byID[st.GetID()] = st
	}
	ordered := make([]*api.StepTrace, 0, len(steps))
	for _, task := range run.Tasks {
		if st, ok := byID[task.GetID()]; ok {
			ordered = append(ordered, st)
		}
	}

	c.JSON(http.StatusOK, api.StepsListResponse{
		Steps: ordered,
		Count: len(ordered),
	})
}

func (s *Server) getStep(c *gin.Context) {
	runID := api.RunID(c.Param("runID"))
	stepID := c.Param("stepID")

	step, ok, err := s.tracer.Steps(runID).GetByID(
		c.Request.Context(), stepID,
	)
	if err != nil {
		internalError(c, ErrGetStep, err)
		return
	}
	if !ok {
		notFound(c, ErrStepNotFound, stepID)
		return
	}

	c.JSON(http.StatusOK, step)
}

func (s *Server) lookupRun(c *gin.Context) (*api.FlowRunTrace, bool) {
	runID := c.Param("runID")

	run, ok, err := s.tracer.Runs().GetByID(c.Request.Context(), runID)
	if err != nil {
		internalError(c, ErrGetRun, err)
		return nil, false
	}
	if !ok {
		notFound(c, ErrRunNotFound, runID)
		return nil, false
	}
	return run, true
}

func notFound(c *gin.Context, sentinel error, id string) {
	c.JSON(http.StatusNotFound, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %s", sentinel, id),
		Status: http.StatusNotFound,
	})
}

func internalError(c *gin.Context, sentinel, err error) {
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %v", sentinel, err),
		Status: http.StatusInternalServerError,
	})
}
