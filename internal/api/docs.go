package api

import (
	"errors"
	"io/fs"
	"net/http"
)

// @Title: List Docs
// @Route: GET /api/docs
// @Description: Lists the bundled AsciiDoc documents
// @Response: ["api.adoc", "protocol.adoc"]
func (s *Service) HandleDocsList(w http.ResponseWriter, r *http.Request) {
	names, err := s.docs.ListDocs()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list docs")
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

// @Title: Get Doc
// @Route: GET /api/docs/{name}
// @Description: Renders one bundled document as HTML
// @Response: HTML fragment
func (s *Service) HandleDoc(w http.ResponseWriter, r *http.Request) {
	html, err := s.docs.GetDoc(r.Context(), r.PathValue("name"))
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "doc not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to render doc")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
