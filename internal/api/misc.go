package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/errlog"
)

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

func handleGenerateImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		url, err := deps.Images.Generate(r.Context(), req.Prompt)
		if err != nil {
			// Provider failures on this route are reported as 500 with the
			// upstream body attached.
			var be *backend.Error
			if errors.As(err, &be) {
				deps.Logger.Warn("image generation failed", "status", be.StatusCode)
				writeErrorBody(w, http.StatusInternalServerError, errorBody{
					Message:  "image generation failed",
					Type:     "upstream_error",
					Backend:  be.Backend,
					Upstream: be.Body,
				})
				return
			}
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, imageResponse{URL: url, Prompt: req.Prompt})
	}
}

func handleLogError(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rep errlog.Report
		if !decodeBody(w, r, deps.MaxBodyBytes, &rep) {
			return
		}
		id, err := deps.Reports.Report(r.Context(), rep)
		if err != nil {
			deps.Logger.Error("writing error report", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to log error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logged": true, "id": id})
	}
}
