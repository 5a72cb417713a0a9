package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/enrich"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/obd"
	"github.com/fixwise/fixwise/internal/provider"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type handlers struct {
	pipeline  *enrich.Pipeline
	generator *guides.Generator
	harvester *harvest.Harvester
	logger    log.Logger
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst) == nil
}

type analyzeRequest struct {
	ErrorCodes []struct {
		Code   string `json:"code"`
		ReadAt string `json:"readAt,omitempty"`
	} `json:"errorCodes"`
	Language string          `json:"language,omitempty"`
	Vehicle  *enrich.Vehicle `json:"vehicle,omitempty"`
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", h.logger)
		return
	}
	if len(req.ErrorCodes) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "errorCodes must not be empty", h.logger)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = "de"
	}
	if !config.ValidLanguage(lang) {
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported language", h.logger)
		return
	}

	codes := make([]string, 0, len(req.ErrorCodes))
	for _, c := range req.ErrorCodes {
		codes = append(codes, c.Code)
	}

	results := h.pipeline.Analyze(r.Context(), codes, lang, req.Vehicle)
	writeJSON(w, http.StatusOK, map[string]any{"results": results}, h.logger)
}

type enrichRequest struct {
	Code    string          `json:"code"`
	Vehicle *enrich.Vehicle `json:"vehicle,omitempty"`
	Phase   string          `json:"phase,omitempty"`
}

func (h *handlers) enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decodeBody(w, r, &req) || req.Code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "code is required", h.logger)
		return
	}

	code, err := obd.ParseCode(req.Code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), h.logger)
		return
	}

	result, err := h.pipeline.EnrichCode(r.Context(), code, req.Vehicle, req.Phase == "quick")
	if err != nil {
		status, code := mapError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result}, h.logger)
}

type guideRequest struct {
	Code       string `json:"code"`
	CauseKey   string `json:"causeKey,omitempty"`
	CauseTitle string `json:"causeTitle"`
	Language   string `json:"language,omitempty"`
}

func (h *handlers) guide(w http.ResponseWriter, r *http.Request) {
	var req guideRequest
	if !decodeBody(w, r, &req) || req.Code == "" || req.CauseTitle == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "code and causeTitle are required", h.logger)
		return
	}
	code, err := obd.ParseCode(req.Code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), h.logger)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = "de"
	}
	if !config.ValidLanguage(lang) {
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported language", h.logger)
		return
	}
	causeKey := req.CauseKey
	if causeKey == "" {
		causeKey = obd.CauseKey(req.CauseTitle)
	}

	guide, err := h.generator.GuideFor(r.Context(), code, causeKey, req.CauseTitle, lang)
	if err != nil {
		status, errCode := mapError(err)
		writeError(w, status, errCode, err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"causeKey": causeKey, "guide": guide}, h.logger)
}

type guidesFillRequest struct {
	Codes []string `json:"codes"`
}

func (h *handlers) guidesFill(w http.ResponseWriter, r *http.Request) {
	var req guidesFillRequest
	if !decodeBody(w, r, &req) || len(req.Codes) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "codes must not be empty", h.logger)
		return
	}

	processed, created := 0, 0
	for _, raw := range req.Codes {
		code, err := obd.ParseCode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), h.logger)
			return
		}
		n, err := h.generator.FillForCode(r.Context(), code)
		if err != nil {
			h.logger.Warn("guide fill failed", "code", code, "error", err)
			continue
		}
		processed++
		created += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": processed, "created": created}, h.logger)
}

type guidesTranslateRequest struct {
	Codes  []string `json:"codes,omitempty"`
	DryRun bool     `json:"dryRun,omitempty"`
}

func (h *handlers) guidesTranslate(w http.ResponseWriter, r *http.Request) {
	var req guidesTranslateRequest
	if !decodeBody(w, r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", h.logger)
		return
	}

	report, err := h.generator.TranslateMissing(r.Context(), req.Codes, req.DryRun)
	if err != nil {
		status, code := mapError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}

func (h *handlers) harvestRun(w http.ResponseWriter, r *http.Request) {
	result, err := h.harvester.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// mapError translates domain sentinels into HTTP status codes.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, guides.ErrNoCauses):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, provider.ErrNoAPIKey):
		return http.StatusServiceUnavailable, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
