// Package server exposes the HTTP surface under /api/memory/v1: thin
// handlers that decode, delegate to the ingest pipeline / resolver /
// company repository, and map the error taxonomy to status codes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/ingest"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/query"
	"github.com/memoryd/memoryd/internal/resolver"
	"github.com/memoryd/memoryd/internal/types"
)

const prefix = "/api/memory/v1"

// Server wires the route handlers over the shared executor-backed services.
type Server struct {
	companies *persist.Repository[types.Company, *types.Company]
	pipeline  *ingest.Pipeline
	resolver  *resolver.Resolver
	cors      []string
}

// New builds a Server. corsOrigins is the allowed-origin list from config;
// empty means no CORS headers are emitted.
func New(exec *db.Executor, pipeline *ingest.Pipeline, res *resolver.Resolver, corsOrigins []string) *Server {
	return &Server{
		companies: persist.NewRepository[types.Company, *types.Company](exec),
		pipeline:  pipeline,
		resolver:  res,
		cors:      corsOrigins,
	}
}

// Handler returns the fully-routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/company", s.listCompanies)
	mux.HandleFunc("POST "+prefix+"/company", s.createCompany)
	mux.HandleFunc("GET "+prefix+"/company/{company_id}/metadata", s.companyMetadata)
	mux.HandleFunc("GET "+prefix+"/company/{company_id}/abstract", s.companyAbstract)
	mux.HandleFunc("POST "+prefix+"/ingest", s.ingest)
	mux.HandleFunc("POST "+prefix+"/retrieve", s.retrieve)
	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cors {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps the error taxonomy to HTTP status codes: validation and
// builder errors to 400, not-found to 404, conflict to 409, everything
// else to 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		nf *apperr.NotFound
		cf *apperr.Conflict
		ui *query.UnsafeIdentifier
		tm *query.TypeMismatch
		br *query.BadRange
	)
	switch {
	case errors.As(err, &nf):
		code := nf.Table + "_not_found"
		writeJSON(w, http.StatusNotFound, errorBody{Error: code, Detail: err.Error()})
	case errors.As(err, &cf):
		writeJSON(w, http.StatusConflict, errorBody{Error: "company_id_already_exists", Detail: err.Error()})
	case apperr.IsValidation(err), errors.As(err, &ui), errors.As(err, &tm), errors.As(err, &br):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failure", Detail: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Detail: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Validationf("malformed request body: %v", err)
	}
	return nil
}

const companyListLimit = 1000

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.companies.FindMany(r.Context(), 0, companyListLimit, map[string]any{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}

// createCompanyRequest is the POST /company body.
type createCompanyRequest struct {
	CompanyID     string         `json:"company_id"`
	Name          string         `json:"name"`
	SensorTypes   []string       `json:"sensor_types,omitempty"`
	EntityTypes   []string       `json:"entity_types,omitempty"`
	RelationTypes []string       `json:"relation_types,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CompanyID == "" || req.Name == "" {
		writeError(w, apperr.Validationf("company_id and name are required"))
		return
	}

	existing, err := s.companies.FindOne(r.Context(), map[string]any{"company_id": req.CompanyID})
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeError(w, &apperr.Conflict{Reason: "company " + req.CompanyID + " already exists"})
		return
	}

	company := &types.Company{
		CompanyID:     req.CompanyID,
		Name:          req.Name,
		SensorTypes:   req.SensorTypes,
		EntityTypes:   req.EntityTypes,
		RelationTypes: req.RelationTypes,
		Data:          req.Data,
	}
	if err := s.companies.Save(r.Context(), company); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, company)
}

func (s *Server) loadCompany(r *http.Request) (*types.Company, error) {
	companyID := r.PathValue("company_id")
	company, err := s.companies.FindOne(r.Context(), map[string]any{"company_id": companyID})
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, &apperr.NotFound{Table: "company", ID: companyID}
	}
	return company, nil
}

func (s *Server) companyMetadata(w http.ResponseWriter, r *http.Request) {
	company, err := s.loadCompany(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

// companyAbstract serves GET /company/{company_id}/abstract?resolution=0..3,
// the non-query subset of the resolution ladder.
func (s *Server) companyAbstract(w http.ResponseWriter, r *http.Request) {
	company, err := s.loadCompany(r)
	if err != nil {
		writeError(w, err)
		return
	}

	level := resolver.TypeOnly
	if raw := r.URL.Query().Get("resolution"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 3 {
			writeError(w, apperr.Validationf("resolution must be an integer in 0..3, got %q", raw))
			return
		}
		level = resolver.Level(n)
	}

	result, err := s.resolver.Resolve(r.Context(), resolver.Request{
		CompanyID:  company.CompanyID,
		Resolution: &level,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TenantID == "" && req.CompanyID == "" {
		writeError(w, apperr.Validationf("tenant_id or company_id is required"))
		return
	}
	result, err := s.pipeline.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// retrieveRequest is the POST /retrieve body; Resolution is optional and
// inferred from the request shape when absent.
type retrieveRequest struct {
	TenantID   string   `json:"tenant_id,omitempty"`
	CompanyID  string   `json:"company_id,omitempty"`
	Resolution *int     `json:"resolution,omitempty"`
	EntityIDs  []string `json:"entity_ids,omitempty"`
	Text       string   `json:"text,omitempty"`
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TenantID == "" && req.CompanyID == "" {
		writeError(w, apperr.Validationf("tenant_id or company_id is required"))
		return
	}

	resolverReq := resolver.Request{
		TenantID:  req.TenantID,
		CompanyID: req.CompanyID,
		EntityIDs: req.EntityIDs,
		Text:      req.Text,
	}
	if req.Resolution != nil {
		n := *req.Resolution
		if n < 0 || n > 5 {
			writeError(w, apperr.Validationf("resolution must be in 0..5, got %d", n))
			return
		}
		level := resolver.Level(n)
		resolverReq.Resolution = &level
	}

	result, err := s.resolver.Resolve(r.Context(), resolverReq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
