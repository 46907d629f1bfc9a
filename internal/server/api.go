package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/command"
	"github.com/sells-group/research-kb/internal/history"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/research"
)

const maxUploadBytes = 32 << 20

func (s *Server) apiRoutes(r chi.Router) {
	r.Get("/auth/status", s.authStatus)

	r.Get("/projects", s.listProjects)
	r.Get("/projects/{id}", s.getProject)
	r.Get("/projects/{id}/summary", s.projectSummary)

	r.Get("/assertions/pending", s.pendingAssertions)
	r.Get("/assertions/by-project", s.assertionsByProject)
	r.Get("/assertions/{id}", s.getAssertion)
	r.Post("/assertions/{id}/validate", s.validateAssertion)
	r.Post("/assertions/{id}/reject", s.rejectAssertion)
	r.Post("/assertions/{id}/notes", s.addNotes)
	r.Post("/assertions/{id}/evidence", s.uploadEvidence)
	r.Get("/assertions/{id}/evidence", s.listEvidence)

	r.Get("/entities", s.listEntities)
	r.Get("/entities/{id}", s.getEntity)
	r.Get("/search", s.search)

	r.Get("/extractions/{entityId}/{schemaType}/diff", s.extractionDiff)

	if s.deps.Commands != nil {
		r.Get("/commands", s.listCommands)
		r.Post("/run/{command}", s.runCommand)
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Research.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, ps)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Research.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, p)
}

func (s *Server) projectSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Research.ProjectSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, sum)
}

func (s *Server) pendingAssertions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := s.deps.Research.PendingValidation(r.Context(), research.PendingInput{
		ProjectID:   q.Get("projectId"),
		Criticality: model.Criticality(strings.ToLower(q.Get("criticality"))),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, p)
}

func (s *Server) assertionsByProject(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Research.AssertionsByProject(r.Context(), r.URL.Query().Get("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, groups)
}

func (s *Server) getAssertion(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Research.GetAssertion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, a)
}

type reviewRequest struct {
	ValidatedBy     string `json:"validatedBy"`
	RejectionReason string `json:"rejectionReason"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) validateAssertion(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.deps.Research.ValidateAssertion(r.Context(), chi.URLParam(r, "id"), req.ValidatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, a)
}

func (s *Server) rejectAssertion(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.deps.Research.RejectAssertion(r.Context(), chi.URLParam(r, "id"), req.ValidatedBy, req.RejectionReason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, a)
}

func (s *Server) addNotes(w http.ResponseWriter, r *http.Request) {
	var req research.HumanResponseInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.deps.Research.AddHumanResponse(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, a)
}

// Evidence is the stored location of an uploaded screenshot.
type Evidence struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	AssertionID string `json:"assertionId"`
}

// evidenceName builds "<assertionId>-<ISO timestamp with : and . as ->.<ext>".
func evidenceName(assertionID, contentType string, at time.Time) string {
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("%s-%s.%s", assertionID, stamp, ext)
}

func (s *Server) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Research.GetAssertion(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("screenshot")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "No screenshot file provided")
		return
	}
	defer file.Close() //nolint:errcheck

	dir := s.cfg.Server.EvidenceDir
	if err := ensureDir(dir); err != nil {
		writeError(w, eris.Wrap(err, "server: create evidence dir"))
		return
	}
	name := evidenceName(id, header.Header.Get("Content-Type"), s.now())
	path := filepath.Join(dir, name)
	if err := writeUpload(path, file); err != nil {
		writeError(w, err)
		return
	}

	stored := filepath.ToSlash(path)
	if _, err := s.deps.Research.AddEvidenceScreenshot(ctx, id, stored); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, Evidence{Path: stored, URL: "/evidence/" + name, AssertionID: id})
}

func writeUpload(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "server: create evidence file")
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "server: write evidence file")
	}
	return eris.Wrap(f.Close(), "server: close evidence file")
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Research.GetAssertion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string][]string{"screenshots": a.EvidenceScreenshots})
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeFail(w, http.StatusBadRequest, "projectId is required")
		return
	}
	es, err := s.deps.Research.ListEntities(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, es)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Research.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, e)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("q")) == "" {
		writeFail(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}
	res, err := s.deps.Research.GlobalSearch(r.Context(), research.GlobalSearchInput{
		Query:     q.Get("q"),
		ProjectID: q.Get("projectId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, res)
}

type diffResponse struct {
	*history.Result
	Description []string `json:"description"`
}

func (s *Server) extractionDiff(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeFail(w, http.StatusNotFound, "extraction history is not available")
		return
	}
	res, err := s.deps.History.LatestDiff(r.Context(), chi.URLParam(r, "entityId"), model.SchemaType(chi.URLParam(r, "schemaType")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, diffResponse{Result: res, Description: history.SummarizeChanges(res.Changes)})
}

func (s *Server) listCommands(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.deps.Commands.Commands())
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, apperr.Validationf("read request body: %v", err))
		return
	}
	args, err := command.FromJSON(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.deps.Commands.Exec(r.Context(), chi.URLParam(r, "command"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, data)
}
