package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nous/internal/realm"
)

// Handler holds API route handlers.
type Handler struct {
	realm Realm
}

// NewHandler creates a new Handler.
func NewHandler(rlm Realm) *Handler {
	return &Handler{realm: rlm}
}

// nodeName extracts the node name from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote).
func nodeName(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// ListNodes handles GET /api/nodes.
//
//	@Summary		List every node ordered by name
//	@Tags			nodes
//	@Produce		json
//	@Success		200	{object}	NodeListResponse
//	@Security		BearerAuth
//	@Router			/nodes [get]
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.realm.Nodes()
	writeJSON(w, http.StatusOK, NodeListResponse{Nodes: nodes, Total: len(nodes)})
}

// GetNode handles GET /api/nodes/*.
//
//	@Summary		Resolve a name to a single node
//	@Tags			nodes
//	@Produce		json
//	@Param			name	path		string	true	"Node name"
//	@Success		200		{object}	models.Node
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{name} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	name := nodeName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	n, err := h.realm.Resolve(name)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// TouchNode handles POST /api/nodes.
//
//	@Summary		Touch a node, creating its file when no node matches
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TouchRequest	true	"Node to touch"
//	@Success		200		{object}	TouchResponse
//	@Success		201		{object}	TouchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes [post]
func (h *Handler) TouchNode(w http.ResponseWriter, r *http.Request) {
	var req TouchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, created, err := h.realm.Touch(r.Context(), req.Name)
	if err != nil {
		writeError(w, "touch", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, TouchResponse{Node: n, Created: created})
}

// RemoveNode handles DELETE /api/nodes/*.
//
//	@Summary		Delete a node's file
//	@Tags			nodes
//	@Param			name	path	string	true	"Node name"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{name} [delete]
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	name := nodeName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	if _, err := h.realm.Remove(r.Context(), name); err != nil {
		writeError(w, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveNode handles POST /api/move.
//
//	@Summary		Move a node and rewrite the links pointing at it
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveRequest	true	"Move source and destination"
//	@Success		200		{object}	realm.MoveResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.realm.Move(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, "move", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// KnownNames handles GET /api/names.
//
//	@Summary		List the display name of every node
//	@Tags			nodes
//	@Produce		json
//	@Success		200	{object}	NamesResponse
//	@Security		BearerAuth
//	@Router			/names [get]
func (h *Handler) KnownNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NamesResponse{Names: h.realm.KnownNames()})
}

// NodePath handles GET /api/path/*.
//
//	@Summary		Get the file path of a node
//	@Tags			nodes
//	@Produce		json
//	@Param			name		path		string	true	"Node name"
//	@Param			absolute	query		bool	false	"Return an absolute path"
//	@Success		200			{object}	PathResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/path/{name} [get]
func (h *Handler) NodePath(w http.ResponseWriter, r *http.Request) {
	name := nodeName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	abs, _ := strconv.ParseBool(r.URL.Query().Get("absolute"))
	p, err := h.realm.Path(name, abs)
	if err != nil {
		writeError(w, "path", err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: p})
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		List the nodes linking to a node
//	@Tags			links
//	@Produce		json
//	@Param			name	path		string	true	"Node name"
//	@Success		200		{object}	realm.ResultSet
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{name} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	h.links(w, r, "backlinks", h.realm.Backlinks)
}

// ForwardLinks handles GET /api/links/*.
//
//	@Summary		List the nodes a node links to, with its broken links
//	@Tags			links
//	@Produce		json
//	@Param			name	path		string	true	"Node name"
//	@Success		200		{object}	realm.ResultSet
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/{name} [get]
func (h *Handler) ForwardLinks(w http.ResponseWriter, r *http.Request) {
	h.links(w, r, "forward links", h.realm.ForwardLinks)
}

func (h *Handler) links(w http.ResponseWriter, r *http.Request, op string, query func(string) (*realm.ResultSet, error)) {
	name := nodeName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	rs, err := query(name)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// Unresolved handles GET /api/unresolved.
//
//	@Summary		List every unresolved or ambiguous link
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	UnresolvedResponse
//	@Security		BearerAuth
//	@Router			/unresolved [get]
func (h *Handler) Unresolved(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UnresolvedResponse{Links: h.realm.Unresolved()})
}

// Stats handles GET /api/stats.
//
//	@Summary		Get the index generation and the last reindex pass
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Root:       h.realm.Root(),
		Generation: h.realm.Generation(),
		Nodes:      len(h.realm.KnownNames()),
		Last:       h.realm.Stats(),
	})
}

// Reindex handles POST /api/reindex.
//
//	@Summary		Bring the index up to date with the filesystem
//	@Tags			index
//	@Produce		json
//	@Param			full	query		bool	false	"Re-read every file"
//	@Success		200		{object}	models.Stats
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reindex [post]
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	var opts []realm.ReindexOption
	if full, _ := strconv.ParseBool(r.URL.Query().Get("full")); full {
		opts = append(opts, realm.Full())
	}
	stats, err := h.realm.Reindex(r.Context(), opts...)
	if err != nil {
		writeError(w, "reindex", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
