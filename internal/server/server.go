package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/files"
	"remindline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task 7 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the remindline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema violations are plain bad requests
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(requestLogger(log))
	hcfg := huma.DefaultConfig("remindline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerHierarchy(group, cfg.Engine)
	registerTransfer(group, cfg.Engine)
	registerFiles(group, cfg.Engine)
	registerArchive(group, cfg.Engine)
	registerCategories(group, cfg.Engine)
	registerContacts(group, cfg.Repo)
	registerEvents(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrBlocked):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.Is(err, files.ErrTooLarge):
		return newAPIError(http.StatusRequestEntityTooLarge, "too_large", msg, map[string]any{"max_bytes": files.MaxFileSize})
	case errors.Is(err, domain.ErrReferenceNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, domain.ErrTransport):
		return newAPIError(http.StatusBadGateway, "transport_failed", msg, nil)
	case errors.Is(err, domain.ErrPersistence):
		return newAPIError(http.StatusInternalServerError, "persistence_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>remindline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		b := input.Body
		opts := engine.TaskCreateOptions{
			Text:         b.Text,
			Description:  strPtrValue(b.Description),
			Category:     strPtrValue(b.Category),
			Datetime:     strPtrValue(b.Datetime),
			ReminderTime: b.ReminderTime,
			ParentID:     b.ParentID,
			Dependencies: b.Dependencies,
			ChatIDs:      b.ChatIDs,
			Group:        strPtrValue(b.Group),
			RepeatCount:  b.RepeatCount,
			RepeatUntil:  strPtrValue(b.RepeatUntil),
			ActorID:      actorIDFromContext(ctx),
		}
		if b.Completed != nil {
			opts.Completed = *b.Completed
		}
		if b.RepeatInterval != nil {
			opts.RepeatInterval = *b.RepeatInterval
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List active and archived tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date      string `query:"date" doc:"Calendar day YYYY-MM-DD"`
		ParentID  string `query:"parent_id"`
		Completed string `query:"completed"`
		Category  string `query:"category"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		filter := engine.TaskFilter{Date: input.Date, Category: input.Category}
		if input.ParentID != "" {
			id, err := strconv.ParseInt(input.ParentID, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid parent_id", map[string]any{"parent_id": input.ParentID})
			}
			filter.ParentID = &id
		}
		if input.Completed != "" {
			done, err := strconv.ParseBool(input.Completed)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid completed", map[string]any{"completed": input.Completed})
			}
			filter.Completed = &done
		}
		active, err := e.ListTasks(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		archived, err := e.ListArchived(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Tasks: nonNilTasks(active), ArchivedTasks: nonNilTasks(archived)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Description: "Only the fields present in the body change. null clears an optional field.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := updateOptions(input.ID, input.Body, rawBodyMap(ctx))
		opts.ActorID = actorIDFromContext(ctx)
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task and its subtasks",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body DeleteTaskResponse `json:"body"`
	}, error) {
		ids, err := e.CascadeDelete(ctx, input.ID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteTaskResponse `json:"body"`
		}{Body: DeleteTaskResponse{Deleted: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Counts over active tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: e.Stats(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-repeating",
		Method:      http.MethodPost,
		Path:        "/process-repeating",
		Summary:     "Generate due occurrences of recurring tasks",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProcessRepeatingResponse `json:"body"`
	}, error) {
		n, err := e.ProcessRepeating(ctx, e.CurrentTime(), actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessRepeatingResponse `json:"body"`
		}{Body: ProcessRepeatingResponse{Created: n}}, nil
	})
}

// updateOptions maps a partial update body. Explicit nulls clear the field.
func updateOptions(id int64, b UpdateTaskRequest, raw map[string]json.RawMessage) engine.TaskUpdateOptions {
	cleared := func(field string) bool { return isNullRaw(raw[field]) }
	empty := ""
	opts := engine.TaskUpdateOptions{
		ID:             id,
		Text:           b.Text,
		Description:    b.Description,
		Category:       b.Category,
		Completed:      b.Completed,
		Datetime:       b.Datetime,
		ReminderTime:   b.ReminderTime,
		ParentID:       b.ParentID,
		Dependencies:   b.Dependencies,
		ChatIDs:        b.ChatIDs,
		Group:          b.Group,
		RepeatInterval: b.RepeatInterval,
		RepeatCount:    b.RepeatCount,
		RepeatUntil:    b.RepeatUntil,
	}
	for field, target := range map[string]**string{
		"description":     &opts.Description,
		"category":        &opts.Category,
		"datetime":        &opts.Datetime,
		"group":           &opts.Group,
		"repeat_interval": &opts.RepeatInterval,
		"repeat_until":    &opts.RepeatUntil,
	} {
		if cleared(field) {
			*target = &empty
		}
	}
	opts.ClearReminder = cleared("reminder_time")
	opts.ClearParent = cleared("parent_id")
	opts.ClearRepeatCount = cleared("repeat_count")
	return opts
}

func registerHierarchy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/subtasks",
		Summary:     "Direct children of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.Subtasks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-descendants",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/descendants",
		Summary:     "All descendant ids of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body DescendantsResponse `json:"body"`
	}, error) {
		ids, err := e.Descendants(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []int64{}
		}
		return &struct {
			Body DescendantsResponse `json:"body"`
		}{Body: DescendantsResponse{ID: input.ID, Descendants: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-complete-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/can-complete",
		Summary:     "Whether dependencies and direct subtasks are completed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body CanCompleteResponse `json:"body"`
	}, error) {
		ok, err := e.CanComplete(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanCompleteResponse `json:"body"`
		}{Body: CanCompleteResponse{ID: input.ID, CanComplete: ok}}, nil
	})
}

func registerTransfer(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/export",
		Summary:     "Export active tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentDisposition string        `header:"Content-Disposition"`
		Body               []domain.Task `json:"body"`
	}, error) {
		return &struct {
			ContentDisposition string        `header:"Content-Disposition"`
			Body               []domain.Task `json:"body"`
		}{ContentDisposition: `attachment; filename="tasks.json"`, Body: nonNilTasks(e.ActiveTasks(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/import",
		Summary:     "Replace active tasks with a JSON array",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		return importTasks(ctx, e, input.RawBody)
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/upload",
		Summary:     "Replace active tasks from an uploaded JSON file",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		fh, err := formFile(&input.RawBody, "file")
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".json") {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "only .json files are accepted", map[string]any{"filename": fh.Filename})
		}
		data, err := readFormFile(fh)
		if err != nil {
			return nil, err
		}
		return importTasks(ctx, e, data)
	})
}

func importTasks(ctx context.Context, e engine.Engine, data []byte) (*struct {
	Body ImportResponse `json:"body"`
}, error) {
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "body must be a JSON array of tasks", map[string]any{"error": err.Error()})
	}
	n, err := e.ImportTasks(ctx, tasks, actorIDFromContext(ctx))
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body ImportResponse `json:"body"`
	}{Body: ImportResponse{Imported: n}}, nil
}

func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-file",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/files",
		Summary:       "Attach a file to a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		RawBody multipart.Form
	}) (*struct {
		Body domain.FileDescriptor `json:"body"`
	}, error) {
		fh, err := formFile(&input.RawBody, "file")
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", map[string]any{"error": err.Error()})
		}
		defer f.Close()
		fd, err := e.AttachFile(ctx, input.ID, fh.Filename, f, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FileDescriptor `json:"body"`
		}{Body: fd}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-file",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/files/{file_id}",
		Summary:     "Download an attachment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64  `path:"id"`
		FileID string `path:"file_id"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		fd, data, err := e.OpenFile(ctx, input.ID, input.FileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/octet-stream",
			ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": fd.Name}),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-file",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/files/{file_id}",
		Summary:       "Remove an attachment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     int64  `path:"id"`
		FileID string `path:"file_id"`
	}) (*struct{}, error) {
		if err := e.DetachFile(ctx, input.ID, input.FileID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerArchive(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "archive-completed",
		Method:      http.MethodPost,
		Path:        "/archive",
		Summary:     "Archive completed tasks with their subtasks",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ArchiveResponse `json:"body"`
	}, error) {
		ids, err := e.ArchiveCompleted(ctx, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []int64{}
		}
		return &struct {
			Body ArchiveResponse `json:"body"`
		}{Body: ArchiveResponse{Archived: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-archive",
		Method:      http.MethodGet,
		Path:        "/archive",
		Summary:     "List archived tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListArchived(ctx, engine.TaskFilter{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-archived",
		Method:        http.MethodDelete,
		Path:          "/archive/{id}",
		Summary:       "Permanently delete an archived task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteArchived(ctx, input.ID, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCategories(api huma.API, e engine.Engine) {
	type listOutput struct {
		Body []string `json:"body"`
	}
	list := func(ctx context.Context) (*listOutput, error) {
		cats, err := e.ListCategories(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if cats == nil {
			cats = []string{}
		}
		return &listOutput{Body: cats}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "List categories in display order",
	}, func(ctx context.Context, _ *struct{}) (*listOutput, error) {
		return list(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-category",
		Method:        http.MethodPost,
		Path:          "/categories",
		Summary:       "Add category",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CategoryRequest `json:"body"`
	}) (*listOutput, error) {
		if err := e.AddCategory(ctx, input.Body.Category, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return list(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-categories",
		Method:      http.MethodPost,
		Path:        "/categories/reorder",
		Summary:     "Reorder categories",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ReorderCategoriesRequest `json:"body"`
	}) (*listOutput, error) {
		if err := e.ReorderCategories(ctx, input.Body.Categories, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return list(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-category",
		Method:      http.MethodPut,
		Path:        "/categories/{name}",
		Summary:     "Rename category",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string                `path:"name"`
		Body RenameCategoryRequest `json:"body"`
	}) (*listOutput, error) {
		if err := e.RenameCategory(ctx, input.Name, input.Body.Name, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return list(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-category",
		Method:      http.MethodDelete,
		Path:        "/categories/{name}",
		Summary:     "Delete an unused category",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*listOutput, error) {
		if err := e.DeleteCategory(ctx, input.Name, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return list(ctx)
	})
}

func registerContacts(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "Chats known to the bot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Contact `json:"body"`
	}, error) {
		items, err := r.ListContacts(ctx)
		if err != nil {
			return nil, handleError(domain.Persistence("list contacts", err))
		}
		if items == nil {
			items = []domain.Contact{}
		}
		return &struct {
			Body []domain.Contact `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-user",
		Method:      http.MethodGet,
		Path:        "/users/by-username/{username}",
		Summary:     "Look up a chat by username",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Username string `path:"username"`
	}) (*struct {
		Body domain.Contact `json:"body"`
	}, error) {
		c, err := r.ContactByUsername(ctx, input.Username)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contact `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/users/{chat_id}",
		Summary:     "Set display name or group",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChatID int64                `path:"chat_id"`
		Body   UpdateContactRequest `json:"body"`
	}) (*struct {
		Body domain.Contact `json:"body"`
	}, error) {
		if input.Body.Name != nil && strings.TrimSpace(*input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name must not be empty", nil)
		}
		group := input.Body.Group
		if isNullRaw(rawBodyMap(ctx)["group"]) {
			empty := ""
			group = &empty
		}
		c, err := r.UpdateContact(ctx, input.ChatID, input.Body.Name, group)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contact `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{chat_id}",
		Summary:       "Forget a chat",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChatID int64 `path:"chat_id"`
	}) (*struct{}, error) {
		if err := r.DeleteContact(ctx, input.ChatID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := r.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(domain.Persistence("list events", err))
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// actorIDFromContext reads the optional X-Actor-Id header.
func actorIDFromContext(ctx context.Context) string {
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return "api"
	}
	if id := strings.TrimSpace(req.Header.Get("X-Actor-Id")); id != "" {
		return id
	}
	return "api"
}

func formFile(form *multipart.Form, field string) (*multipart.FileHeader, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", field+" is required", map[string]any{"field": field})
	}
	return form.File[field][0], nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", map[string]any{"error": err.Error()})
	}
	defer f.Close()
	return io.ReadAll(f)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
