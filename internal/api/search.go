package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/server"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

func (h *Handler) handleSearchTemplate(w http.ResponseWriter, r *http.Request) {
	var req retrieval.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			server.WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeRequestTooBig, "Request body too large")
			return
		}
		server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	h.search(w, r, req)
}

func (h *Handler) handleSearchQuick(w http.ResponseWriter, r *http.Request) {
	var req retrieval.SearchRequest
	if err := queryDecoder.Decode(&req, r.URL.Query()); err != nil {
		server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	h.search(w, r, req)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, req retrieval.SearchRequest) {
	if err := validate.Struct(req); err != nil {
		server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, validationMessage(err))
		return
	}
	if h.searcher == nil {
		unavailable(w, "search")
		return
	}

	results, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Search failed")
		return
	}
	if results == nil {
		results = []retrieval.SearchResult{}
	}
	server.WriteJSON(w, http.StatusOK, results)
}
