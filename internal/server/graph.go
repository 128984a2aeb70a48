package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
	"mootcourt/internal/repo"
)

func requireEditByDialogue(ctx context.Context, e engine.Engine, dialogueID string) error {
	d, err := e.Repo.GetDialogue(ctx, dialogueID)
	if err != nil {
		return err
	}
	_, err = requireEdit(ctx, d)
	return err
}

func registerNodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-node",
		Method:        http.MethodPost,
		Path:          "/dialogues/{dialogue_id}/nodes",
		Summary:       "Add node",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string            `path:"dialogue_id"`
		Body       CreateNodeRequest `json:"body"`
	}) (*struct {
		Body domain.Node `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireEditByDialogue(ctx, e, input.DialogueID); err != nil {
			return nil, handleError(err)
		}
		n, err := e.AddNode(ctx, engine.NodeCreateOptions{
			ID:             deref(input.Body.ID),
			DialogueID:     input.DialogueID,
			Kind:           domain.NodeKind(input.Body.Kind),
			Title:          input.Body.Title,
			Body:           deref(input.Body.Body),
			MenuLabel:      deref(input.Body.MenuLabel),
			SpeakingRoleID: deref(input.Body.SpeakingRoleID),
			PosX:           input.Body.PosX,
			PosY:           input.Body.PosY,
			IsInitial:      input.Body.IsInitial,
			IsFinal:        input.Body.IsFinal,
			PrecondJSON:    deref(input.Body.PrecondJSON),
			EffectsJSON:    deref(input.Body.EffectsJSON),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Node `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/dialogues/{dialogue_id}/nodes",
		Summary:     "List nodes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body []domain.Node `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetDialogue(ctx, input.DialogueID); err != nil {
			return nil, handleError(err)
		}
		nodes, err := e.Repo.ListNodes(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if nodes == nil {
			nodes = []domain.Node{}
		}
		return &struct {
			Body []domain.Node `json:"body"`
		}{Body: nodes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-node",
		Method:      http.MethodGet,
		Path:        "/nodes/{node_id}",
		Summary:     "Get node",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body domain.Node `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		n, err := e.Repo.GetNode(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Node `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-node",
		Method:      http.MethodPatch,
		Path:        "/nodes/{node_id}",
		Summary:     "Update node",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		NodeID string            `path:"node_id"`
		Body   UpdateNodeRequest `json:"body"`
	}) (*struct {
		Body domain.Node `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		existing, err := e.Repo.GetNode(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireEditByDialogue(ctx, e, existing.DialogueID); err != nil {
			return nil, handleError(err)
		}
		var kind *domain.NodeKind
		if input.Body.Kind != nil {
			k := domain.NodeKind(*input.Body.Kind)
			kind = &k
		}
		n, err := e.UpdateNode(ctx, engine.NodeUpdateOptions{
			ID:             input.NodeID,
			Kind:           kind,
			Title:          input.Body.Title,
			Body:           input.Body.Body,
			MenuLabel:      input.Body.MenuLabel,
			SpeakingRoleID: input.Body.SpeakingRoleID,
			ClearRole:      input.Body.ClearRole,
			PosX:           input.Body.PosX,
			PosY:           input.Body.PosY,
			IsInitial:      input.Body.IsInitial,
			IsFinal:        input.Body.IsFinal,
			PrecondJSON:    input.Body.PrecondJSON,
			EffectsJSON:    input.Body.EffectsJSON,
			Active:         input.Body.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Node `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-node",
		Method:      http.MethodDelete,
		Path:        "/nodes/{node_id}",
		Summary:     "Delete node and its edges",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct{}, error) {
		existing, err := e.Repo.GetNode(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireEditByDialogue(ctx, e, existing.DialogueID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteNode(ctx, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-response",
		Method:        http.MethodPost,
		Path:          "/dialogues/{dialogue_id}/responses",
		Summary:       "Add response edge",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string                `path:"dialogue_id"`
		Body       CreateResponseRequest `json:"body"`
	}) (*struct {
		Body domain.Response `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireEditByDialogue(ctx, e, input.DialogueID); err != nil {
			return nil, handleError(err)
		}
		re, err := e.AddResponse(ctx, engine.ResponseCreateOptions{
			ID:             deref(input.Body.ID),
			DialogueID:     input.DialogueID,
			SourceID:       input.Body.SourceID,
			TargetID:       deref(input.Body.TargetID),
			Label:          input.Body.Label,
			Description:    deref(input.Body.Description),
			SortOrder:      input.Body.SortOrder,
			ScoreDelta:     input.Body.ScoreDelta,
			Color:          deref(input.Body.Color),
			RegisteredOnly: input.Body.RegisteredOnly,
			IsDefault:      input.Body.IsDefault,
			RolesJSON:      deref(input.Body.RolesJSON),
			PrecondJSON:    deref(input.Body.PrecondJSON),
			EffectsJSON:    deref(input.Body.EffectsJSON),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Response `json:"body"`
		}{Body: re}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-responses",
		Method:      http.MethodGet,
		Path:        "/dialogues/{dialogue_id}/responses",
		Summary:     "List response edges",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body []domain.Response `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetDialogue(ctx, input.DialogueID); err != nil {
			return nil, handleError(err)
		}
		edges, err := e.Repo.ListResponses(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if edges == nil {
			edges = []domain.Response{}
		}
		return &struct {
			Body []domain.Response `json:"body"`
		}{Body: edges}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-response",
		Method:      http.MethodPatch,
		Path:        "/responses/{response_id}",
		Summary:     "Update response edge",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ResponseID string                `path:"response_id"`
		Body       UpdateResponseRequest `json:"body"`
	}) (*struct {
		Body domain.Response `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		existing, err := e.Repo.GetResponse(ctx, input.ResponseID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireEditByDialogue(ctx, e, existing.DialogueID); err != nil {
			return nil, handleError(err)
		}
		re, err := e.UpdateResponse(ctx, engine.ResponseUpdateOptions{
			ID:          input.ResponseID,
			TargetID:    input.Body.TargetID,
			ClearTarget: input.Body.ClearTarget,
			Patch: repo.ResponsePatch{
				Label:          input.Body.Label,
				Description:    input.Body.Description,
				SortOrder:      input.Body.SortOrder,
				ScoreDelta:     input.Body.ScoreDelta,
				Color:          input.Body.Color,
				RegisteredOnly: input.Body.RegisteredOnly,
				IsDefault:      input.Body.IsDefault,
				RolesJSON:      input.Body.RolesJSON,
				PrecondJSON:    input.Body.PrecondJSON,
				EffectsJSON:    input.Body.EffectsJSON,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Response `json:"body"`
		}{Body: re}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-response",
		Method:      http.MethodDelete,
		Path:        "/responses/{response_id}",
		Summary:     "Delete response edge",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ResponseID string `path:"response_id"`
	}) (*struct{}, error) {
		existing, err := e.Repo.GetResponse(ctx, input.ResponseID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireEditByDialogue(ctx, e, existing.DialogueID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteResponse(ctx, input.ResponseID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
