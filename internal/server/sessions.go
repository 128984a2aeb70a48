package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
)

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/start",
		Summary:       "Start the session's execution",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusPreconditionFailed,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      StartSessionRequest `json:"body"`
	}) (*struct {
		Body domain.SessionExecution `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		ex, err := e.StartSession(ctx, engine.StartSessionOptions{
			SessionID:  input.SessionID,
			DialogueID: input.Body.DialogueID,
			ActorID:    p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionExecution `json:"body"`
		}{Body: ex}, nil
	})

	type sessionAction struct {
		SessionID string `path:"session_id"`
	}
	type executionOut struct {
		Body domain.SessionExecution `json:"body"`
	}

	lifecycle := []struct {
		op      string
		path    string
		summary string
		call    func(ctx context.Context, sessionID, userID string) (domain.SessionExecution, error)
	}{
		{"pause-session", "/sessions/{session_id}/pause", "Pause the session", e.PauseSession},
		{"resume-session", "/sessions/{session_id}/resume", "Resume the session", e.ResumeSession},
		{"finish-session", "/sessions/{session_id}/finish", "Finish the session", e.FinishSession},
	}
	for _, lc := range lifecycle {
		call := lc.call
		huma.Register(api, huma.Operation{
			OperationID: lc.op,
			Method:      http.MethodPost,
			Path:        lc.path,
			Summary:     lc.summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
			},
		}, func(ctx context.Context, input *sessionAction) (*executionOut, error) {
			p, err := requireManage(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			ex, err := call(ctx, input.SessionID, p.UserID)
			if err != nil {
				return nil, handleError(err)
			}
			return &executionOut{Body: ex}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "advance-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/advance",
		Summary:     "Manually move the pointer to a node",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string         `path:"session_id"`
		Body      AdvanceRequest `json:"body"`
	}) (*executionOut, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireManage(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.ToNodeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_node_id is required", nil)
		}
		ex, err := e.AdvanceManual(ctx, input.SessionID, input.Body.ToNodeID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &executionOut{Body: ex}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Session history and score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionAction) (*struct {
		Body engine.SessionReadout `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		readout, err := e.SessionHistory(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SessionReadout `json:"body"`
		}{Body: readout}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-role",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/roles/claim",
		Summary:       "Claim a role in the session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string           `path:"session_id"`
		Body      ClaimRoleRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		part, err := e.ClaimRole(ctx, input.SessionID, input.Body.RoleID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: part}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-role",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/roles/release",
		Summary:     "Release a role in the session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      ReleaseRoleRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		force := input.Body.Force
		if force {
			if _, err := requireManage(ctx); err != nil {
				return nil, handleError(err)
			}
		}
		if err := e.ReleaseRole(ctx, input.SessionID, input.Body.RoleID, p.UserID, force); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/participants",
		Summary:     "List role assignments",
	}, func(ctx context.Context, input *sessionAction) (*struct {
		Body []domain.Participant `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		parts, err := e.Repo.ListParticipants(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if parts == nil {
			parts = []domain.Participant{}
		}
		return &struct {
			Body []domain.Participant `json:"body"`
		}{Body: parts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-now",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/now",
		Summary:     "What can I do now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionAction) (*struct {
		Body engine.Availability `json:"body"`
	}, error) {
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		avail, err := e.SessionAvailability(ctx, input.SessionID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Availability `json:"body"`
		}{Body: avail}, nil
	})

	type submitResponse struct {
		Decision  domain.Decision         `json:"decision"`
		Execution domain.SessionExecution `json:"execution"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "submit-decision",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/decisions",
		Summary:       "Play a response",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusPreconditionFailed,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string                `path:"session_id"`
		Body      SubmitDecisionRequest `json:"body"`
	}) (*struct {
		Body submitResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		dec, ex, err := e.SubmitDecision(ctx, engine.SubmitOptions{
			SessionID:      input.SessionID,
			ResponseID:     input.Body.ResponseID,
			UserID:         p.UserID,
			RoleID:         input.Body.RoleID,
			AnnexText:      deref(input.Body.AnnexText),
			LatencyMs:      derefInt(input.Body.LatencyMs),
			ClientMetaJSON: deref(input.Body.ClientMetaJSON),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body submitResponse `json:"body"`
		}{Body: submitResponse{Decision: dec, Execution: ex}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-decision-meta",
		Method:      http.MethodPost,
		Path:        "/decisions/{decision_id}/meta",
		Summary:     "Attach client metadata to a decision (one-shot)",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DecisionID string            `path:"decision_id"`
		Body       AttachMetaRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		dec, err := e.AttachDecisionMeta(ctx, input.DecisionID, input.Body.ClientMetaJSON)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: dec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "Read the session event log past a cursor",
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Cursor    int64  `query:"cursor"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		evts, err := e.EventsSince(ctx, input.SessionID, input.Cursor, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
