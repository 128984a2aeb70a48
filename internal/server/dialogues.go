package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
	"mootcourt/internal/graph"
	"mootcourt/internal/repo"
)

func registerDialogues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dialogue",
		Method:        http.MethodPost,
		Path:          "/dialogues",
		Summary:       "Create dialogue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDialogueRequest `json:"body"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.hasScope(ScopeEdit) {
			return nil, handleError(engine.ForbiddenError{Msg: "edit scope required"})
		}
		d, err := e.CreateDialogue(ctx, engine.DialogueCreateOptions{
			ID:          deref(input.Body.ID),
			Name:        input.Body.Name,
			Description: deref(input.Body.Description),
			Visibility:  deref(input.Body.Visibility),
			OwnerID:     p.UserID,
			ConfigJSON:  deref(input.Body.ConfigJSON),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dialogues",
		Method:      http.MethodGet,
		Path:        "/dialogues",
		Summary:     "List dialogues",
	}, func(ctx context.Context, input *struct {
		State      string `query:"state" enum:"draft,active,archived,"`
		Visibility string `query:"visibility" enum:"private,public,"`
		Owner      string `query:"owner"`
	}) (*struct {
		Body []domain.Dialogue `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDialogues(ctx, repo.DialogueFilters{
			OwnerID:    input.Owner,
			State:      input.State,
			Visibility: input.Visibility,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Dialogue{}
		}
		return &struct {
			Body []domain.Dialogue `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dialogue",
		Method:      http.MethodGet,
		Path:        "/dialogues/{dialogue_id}",
		Summary:     "Get dialogue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-dialogue",
		Method:      http.MethodPatch,
		Path:        "/dialogues/{dialogue_id}",
		Summary:     "Update dialogue",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string                `path:"dialogue_id"`
		Body       UpdateDialogueRequest `json:"body"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		d, err := e.Repo.GetDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := requireEdit(ctx, d); err != nil {
			return nil, handleError(err)
		}
		d, err = e.UpdateDialogue(ctx, input.DialogueID, repo.DialoguePatch{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Visibility:  input.Body.Visibility,
			ConfigJSON:  input.Body.ConfigJSON,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-dialogue",
		Method:      http.MethodDelete,
		Path:        "/dialogues/{dialogue_id}",
		Summary:     "Delete dialogue",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct{}, error) {
		d, err := e.Repo.GetDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := requireEdit(ctx, d); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteDialogue(ctx, input.DialogueID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-dialogue",
		Method:      http.MethodPost,
		Path:        "/dialogues/{dialogue_id}/validate",
		Summary:     "Validate dialogue graph",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body graph.Report `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.ValidateDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body graph.Report `json:"body"`
		}{Body: rep}, nil
	})

	type activateResponse struct {
		Dialogue domain.Dialogue `json:"dialogue"`
		Report   graph.Report    `json:"report"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "activate-dialogue",
		Method:      http.MethodPost,
		Path:        "/dialogues/{dialogue_id}/activate",
		Summary:     "Validate and activate dialogue",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body activateResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := requireEdit(ctx, d); err != nil {
			return nil, handleError(err)
		}
		d, rep, err := e.ActivateDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body activateResponse `json:"body"`
		}{Body: activateResponse{Dialogue: d, Report: rep}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-dialogue",
		Method:      http.MethodPost,
		Path:        "/dialogues/{dialogue_id}/revert",
		Summary:     "Revert dialogue to draft",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		d, err := e.Repo.GetDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := requireEdit(ctx, d); err != nil {
			return nil, handleError(err)
		}
		d, err = e.RevertDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-dialogue",
		Method:      http.MethodPost,
		Path:        "/dialogues/{dialogue_id}/archive",
		Summary:     "Archive dialogue",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		if _, err := requireManage(ctx); err != nil {
			return nil, handleError(err)
		}
		d, err := e.ArchiveDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-dialogue",
		Method:        http.MethodPost,
		Path:          "/dialogues/{dialogue_id}/duplicate",
		Summary:       "Duplicate dialogue as a fresh draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DialogueID string                   `path:"dialogue_id"`
		Body       DuplicateDialogueRequest `json:"body"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.hasScope(ScopeEdit) {
			return nil, handleError(engine.ForbiddenError{Msg: "edit scope required"})
		}
		d, err := e.DuplicateDialogue(ctx, input.DialogueID, input.Body.Name, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-dialogue",
		Method:      http.MethodGet,
		Path:        "/dialogues/{dialogue_id}/export",
		Summary:     "Export dialogue as a portable bundle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DialogueID string `path:"dialogue_id"`
	}) (*struct {
		Body engine.DialogueBundle `json:"body"`
	}, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		bundle, err := e.ExportDialogue(ctx, input.DialogueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DialogueBundle `json:"body"`
		}{Body: bundle}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-dialogue",
		Method:        http.MethodPost,
		Path:          "/dialogues/import",
		Summary:       "Import dialogue bundle as a fresh draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body engine.DialogueBundle `json:"body"`
	}) (*struct {
		Body domain.Dialogue `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requireUse(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.hasScope(ScopeEdit) {
			return nil, handleError(engine.ForbiddenError{Msg: "edit scope required"})
		}
		d, err := e.ImportDialogue(ctx, input.Body, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dialogue `json:"body"`
		}{Body: d}, nil
	})
}
