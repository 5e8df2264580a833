package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"remindline/internal/config"
	"remindline/internal/db"
	"remindline/internal/domain"
	"remindline/internal/engine"
	"remindline/internal/events"
	"remindline/internal/files"
	"remindline/internal/migrate"
	"remindline/internal/repo"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	Events events.Writer
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	if err := r.SeedCategories(ctx, []string{"Work", "Personal"}); err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	disk, err := files.NewDisk(workspace + "/files")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	store := engine.NewStore(r)
	if err := store.Load(ctx); err != nil {
		t.Fatalf("load store: %v", err)
	}
	ev := events.Writer{DB: conn}
	e := engine.New(store, r, disk, ev)
	e.Location = time.UTC
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, Repo: r, BasePath: "/api"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String() + "/api",
		Repo:   r,
		Events: ev,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, client, req)
}

func doUpload(t *testing.T, client *http.Client, url, name string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(content)
	mw.Close()
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send(t, client, req)
}

func send(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, body map[string]any) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestTaskCrudRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTask(t, srv, map[string]any{
		"text":          "Dentist",
		"description":   "bring card",
		"category":      "Personal",
		"datetime":      "2024-03-12T14:30",
		"reminder_time": 30,
		"chat_ids":      []int64{42},
	})
	if created.ID != 1 || created.Category == nil || *created.Category != "Personal" {
		t.Fatalf("unexpected task: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/tasks/1", `{"description":null,"reminder_time":null,"text":"Dentist appointment"}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.Task
	_ = json.Unmarshal(data, &updated)
	if updated.Text != "Dentist appointment" || updated.Description != "" || updated.ReminderTime != nil {
		t.Fatalf("null fields not cleared: %+v", updated)
	}
	if updated.Datetime == nil || *updated.Datetime != "2024-03-12T14:30" {
		t.Fatalf("absent fields must be untouched: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks?date=2024-03-12", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list TaskListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Tasks) != 1 || list.ArchivedTasks == nil {
		t.Fatalf("unexpected listing: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/99", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found, got %d %s", res.StatusCode, string(data))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		body   any
		status int
	}{
		{map[string]any{"description": "no text"}, http.StatusBadRequest},
		{map[string]any{"text": "t", "datetime": "soon"}, http.StatusBadRequest},
		{map[string]any{"text": "t", "category": "Nope"}, http.StatusNotFound},
		{map[string]any{"text": "t", "parent_id": 7}, http.StatusNotFound},
		{map[string]any{"text": "t", "repeat_interval": "hourly"}, http.StatusBadRequest},
	}
	for _, c := range cases {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks", c.body, nil)
		if res.StatusCode != c.status {
			t.Fatalf("%v: expected %d, got %d %s", c.body, c.status, res.StatusCode, string(data))
		}
	}
}

func TestCompletionBlockedBySubtasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	parent := createTask(t, srv, map[string]any{"text": "release"})
	child := createTask(t, srv, map[string]any{"text": "changelog", "parent_id": parent.ID})
	createTask(t, srv, map[string]any{"text": "notes", "parent_id": child.ID})

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/tasks/1", map[string]any{"completed": true}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected blocked completion, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/1/can-complete", nil, nil)
	var can CanCompleteResponse
	_ = json.Unmarshal(data, &can)
	if res.StatusCode != http.StatusOK || can.CanComplete {
		t.Fatalf("unexpected can-complete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/1/descendants", nil, nil)
	var desc DescendantsResponse
	_ = json.Unmarshal(data, &desc)
	if res.StatusCode != http.StatusOK || len(desc.Descendants) != 2 {
		t.Fatalf("unexpected descendants: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/tasks/2", map[string]any{"parent_id": 3}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected cycle rejection, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/tasks/1", nil, nil)
	var deleted DeleteTaskResponse
	_ = json.Unmarshal(data, &deleted)
	if res.StatusCode != http.StatusOK || len(deleted.Deleted) != 3 {
		t.Fatalf("cascade delete: %d %s", res.StatusCode, string(data))
	}
}

func TestArchiveEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createTask(t, srv, map[string]any{"text": "done", "completed": true})
	createTask(t, srv, map[string]any{"text": "open"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/archive", nil, map[string]string{"X-Actor-Id": "ops"})
	var archived ArchiveResponse
	_ = json.Unmarshal(data, &archived)
	if res.StatusCode != http.StatusOK || len(archived.Archived) != 1 || archived.Archived[0] != 1 {
		t.Fatalf("archive: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, nil)
	var list TaskListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Tasks) != 1 || len(list.ArchivedTasks) != 1 {
		t.Fatalf("listing after archive: %s", string(data))
	}

	evts, err := srv.Repo.LatestEvents(context.Background(), 10, "tasks.archived", "", "")
	if err != nil || len(evts) != 1 || evts[0].ActorID != "ops" {
		t.Fatalf("expected archive event by ops, got %+v %v", evts, err)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/archive/1", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete archived: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/archive/1", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d", res.StatusCode)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/categories", map[string]any{"category": "Home"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add category: %d %s", res.StatusCode, string(data))
	}
	createTask(t, srv, map[string]any{"text": "paint", "category": "Home"})

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/categories/Home", map[string]any{"name": "House"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rename: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/1", nil, nil)
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Category == nil || *task.Category != "House" {
		t.Fatalf("rename must follow tasks: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/categories/reorder", map[string]any{"categories": []string{"House", "Personal", "Work"}}, nil)
	var cats []string
	_ = json.Unmarshal(data, &cats)
	if res.StatusCode != http.StatusOK || strings.Join(cats, ",") != "House,Personal,Work" {
		t.Fatalf("reorder: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/categories/reorder", map[string]any{"categories": []string{"House"}}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("partial reorder must fail, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/categories/House", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("deleting a used category must fail, got %d", res.StatusCode)
	}
}

func TestFileAttachmentEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, map[string]any{"text": "taxes"})

	res, data := doUpload(t, client, srv.URL+"/tasks/1/files", "receipt.txt", []byte("42 EUR"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach: %d %s", res.StatusCode, string(data))
	}
	var fd domain.FileDescriptor
	_ = json.Unmarshal(data, &fd)
	if fd.Name != "receipt.txt" || fd.Size != 6 {
		t.Fatalf("unexpected descriptor: %+v", fd)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/1/files/"+fd.ID, nil, nil)
	if res.StatusCode != http.StatusOK || string(data) != "42 EUR" {
		t.Fatalf("download: %d %q", res.StatusCode, string(data))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "receipt.txt") {
		t.Fatalf("missing disposition: %q", res.Header.Get("Content-Disposition"))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/tasks/1/files/"+fd.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("detach: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/1/files/"+fd.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("detached file still served: %d", res.StatusCode)
	}
}

func TestImportExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, map[string]any{"text": "old"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks/import", `[{"id":5,"text":"a","category":"Unknown"},{"text":"b","parent_id":5}]`, nil)
	var imported ImportResponse
	_ = json.Unmarshal(data, &imported)
	if res.StatusCode != http.StatusOK || imported.Imported != 2 {
		t.Fatalf("import: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/export", nil, nil)
	var tasks []domain.Task
	_ = json.Unmarshal(data, &tasks)
	if res.StatusCode != http.StatusOK || len(tasks) != 2 {
		t.Fatalf("export: %d %s", res.StatusCode, string(data))
	}
	if tasks[0].Category == nil || *tasks[0].Category != "Work" || tasks[1].ID != 6 {
		t.Fatalf("unexpected import result: %s", string(data))
	}

	res, data = doUpload(t, client, srv.URL+"/tasks/upload", "tasks.txt", []byte("[]"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-json upload: %d %s", res.StatusCode, string(data))
	}
	res, data = doUpload(t, client, srv.URL+"/tasks/upload", "tasks.json", []byte(`[{"text":"fresh"}]`))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", res.StatusCode, string(data))
	}
}

func TestContactEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	if err := srv.Repo.RecordContact(ctx, domain.Contact{ChatID: 42, Username: "ann", Name: "Ann", Timestamp: "2024-03-10T00:00:00Z"}); err != nil {
		t.Fatalf("record contact: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/users/42", map[string]any{"group": "family"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update contact: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/users/by-username/ann", nil, nil)
	var c domain.Contact
	_ = json.Unmarshal(data, &c)
	if res.StatusCode != http.StatusOK || c.Group != "family" || c.Name != "Ann" {
		t.Fatalf("lookup: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/users/42", `{"group":null}`, nil)
	_ = json.Unmarshal(data, &c)
	if res.StatusCode != http.StatusOK || c.Group != "" {
		t.Fatalf("clear group: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/users/42", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete contact: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/users/by-username/ann", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted contact still found: %d", res.StatusCode)
	}
}

func TestProcessRepeatingEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTask(t, srv, map[string]any{"text": "water plants", "datetime": "2024-03-09T12:00", "repeat_interval": "day", "completed": true})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/process-repeating", nil, nil)
	var out ProcessRepeatingResponse
	_ = json.Unmarshal(data, &out)
	if res.StatusCode != http.StatusOK || out.Created != 1 {
		t.Fatalf("process repeating: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/stats", nil, nil)
	var stats domain.Stats
	_ = json.Unmarshal(data, &stats)
	if stats.Total != 2 {
		t.Fatalf("stats: %s", string(data))
	}
}

func TestWebhookDeliversFilteredEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := srv.Events.Append(ctx, "task.created", "task", "1", "api", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"reminder.sent"}, Secret: "s3"}}, nil)
	d.dispatchAll(ctx)
	if len(got) != 0 {
		t.Fatalf("events before the first poll must be skipped, got %d", len(got))
	}

	srv.Events.Append(ctx, "task.updated", "task", "1", "api", nil)
	srv.Events.Append(ctx, "reminder.sent", "task", "1", "scheduler", events.EventPayload{"chat_ids": []int64{42}})
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != "reminder.sent" {
		t.Fatalf("expected one reminder.sent delivery, got %+v", got)
	}
	if headers[0].Get("X-Remindline-Secret") != "s3" || headers[0].Get("X-Remindline-Delivery") == "" {
		t.Fatalf("missing delivery headers: %v", headers[0])
	}
	if !strings.Contains(string(got[0].Payload), "42") {
		t.Fatalf("payload not forwarded: %s", string(got[0].Payload))
	}
}

func TestEventFilterPatterns(t *testing.T) {
	cases := []struct {
		patterns []string
		evt      string
		want     bool
	}{
		{nil, "task.created", true},
		{[]string{" "}, "task.created", true},
		{[]string{"task.*"}, "task.file.attached", true},
		{[]string{"task.*"}, "tasks.archived", false},
		{[]string{"reminder.sent"}, "reminder.sent", true},
		{[]string{"reminder.sent", "archive.*"}, "occurrence.created", false},
	}
	for _, c := range cases {
		if got := newEventFilter(c.patterns).match(c.evt); got != c.want {
			t.Fatalf("%v match %s: got %v want %v", c.patterns, c.evt, got, c.want)
		}
	}
}
