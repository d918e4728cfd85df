package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/auth"
	"github.com/planboard/backend/internal/change"
	"github.com/planboard/backend/internal/store"
)

const maxRequestBody = 1 << 20

func (s *Server) apiRoutes(r *mux.Router) {
	r.HandleFunc("/projects", s.authed(s.handleListProjects)).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.authed(s.handleCreateProject)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/archive", s.authed(s.handleArchive(true))).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/restore", s.authed(s.handleArchive(false))).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/tasks", s.authed(s.handleListTasks)).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/tasks", s.authed(s.handleCreateTask)).Methods(http.MethodPost)

	r.HandleFunc("/tasks/{task}", s.authed(s.handleGetTask)).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{task}", s.authed(s.handleUpdateTask)).Methods(http.MethodPatch)
	r.HandleFunc("/tasks/{task}", s.authed(s.handleDeleteTask)).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{task}/comments", s.authed(s.handleListComments)).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{task}/comments", s.authed(s.handleAddComment)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{task}/time-entries", s.authed(s.handleListTimeEntries)).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{task}/time-entries", s.authed(s.handleAddTimeEntry)).Methods(http.MethodPost)

	r.HandleFunc("/comments/{comment}", s.authed(s.handleDeleteComment)).Methods(http.MethodDelete)
	r.HandleFunc("/time-entries/{entry}", s.authed(s.handleDeleteTimeEntry)).Methods(http.MethodDelete)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.verifier.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, claims)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewBadRequest(err, "decoding request body")
	}
	return nil
}

// publishTask announces a task change to both task-scoped and list-scoped
// listeners. Callers publish only after the store has committed.
func (s *Server) publishTask(t *store.Task) {
	for _, ev := range change.TaskEvents(t.ProjectID, t.ID) {
		s.bus.Publish(ev)
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	visible := projects[:0]
	for _, p := range projects {
		if claims.CanAccess(p.ID) {
			visible = append(visible, p)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if !claims.CanAccess(auth.AllProjects) {
		writeError(w, errors.Forbiddenf("creating projects"))
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.store.CreateProject(r.Context(), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleArchive toggles a project's archived flag. List watchers are
// notified so their next reload reports the project as forbidden.
func (s *Server) handleArchive(archived bool) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		projectID := mux.Vars(r)["project"]
		if err := authorizeProject(claims, projectID); err != nil {
			writeError(w, err)
			return
		}
		if err := s.store.SetArchived(r.Context(), projectID, archived); err != nil {
			writeError(w, err)
			return
		}
		s.bus.Publish(change.Event{Kind: change.KindTaskList, EntityID: projectID, ScopeID: projectID})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	projectID := mux.Vars(r)["project"]
	if err := authorizeProject(claims, projectID); err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	projectID := mux.Vars(r)["project"]
	if err := authorizeProject(claims, projectID); err != nil {
		writeError(w, err)
		return
	}
	var n store.NewTask
	if err := decodeBody(w, r, &n); err != nil {
		writeError(w, err)
		return
	}
	n.ProjectID = projectID
	t, err := s.store.CreateTask(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTask(t)
	writeJSON(w, http.StatusCreated, t)
}

// taskFor resolves the {task} route variable and checks the caller may
// see its project.
func (s *Server) taskFor(r *http.Request, claims *auth.Claims) (string, error) {
	taskID := mux.Vars(r)["task"]
	return taskID, s.authorizeTask(r.Context(), claims, taskID)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	var patch store.TaskPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.store.UpdateTask(r.Context(), taskID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTask(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.store.DeleteTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTask(t)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Author == "" && claims.Subject != "" {
		body.Author = claims.Subject
	}
	c, err := s.store.AddComment(r.Context(), taskID, body.Author, body.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	s.bus.Publish(change.Event{Kind: change.KindComment, EntityID: c.ID, ScopeID: c.TaskID})
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	commentID := mux.Vars(r)["comment"]
	taskID, err := s.store.CommentTask(r.Context(), commentID)
	if err == nil {
		err = s.authorizeTask(r.Context(), claims, taskID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.store.DeleteComment(r.Context(), commentID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.bus.Publish(change.Event{Kind: change.KindComment, EntityID: c.ID, ScopeID: c.TaskID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTimeEntries(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.store.ListTimeEntries(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddTimeEntry(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	taskID, err := s.taskFor(r, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	var n store.NewTimeEntry
	if err := decodeBody(w, r, &n); err != nil {
		writeError(w, err)
		return
	}
	n.TaskID = taskID
	if n.User == "" {
		n.User = claims.Subject
	}
	e, err := s.store.AddTimeEntry(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	s.bus.Publish(change.Event{Kind: change.KindTimeTrack, EntityID: e.ID, ScopeID: e.TaskID})
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteTimeEntry(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	entryID := mux.Vars(r)["entry"]
	taskID, err := s.store.TimeEntryTask(r.Context(), entryID)
	if err == nil {
		err = s.authorizeTask(r.Context(), claims, taskID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := s.store.DeleteTimeEntry(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.bus.Publish(change.Event{Kind: change.KindTimeTrack, EntityID: e.ID, ScopeID: e.TaskID})
	w.WriteHeader(http.StatusNoContent)
}
