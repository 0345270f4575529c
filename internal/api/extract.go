package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type extractRequest struct {
	Base64Data string `json:"base64Data"`
}

type extractResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

func handleExtractText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		if strings.TrimSpace(req.Base64Data) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "base64Data is required")
			return
		}
		data, err := decodeBase64(req.Base64Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "base64Data is not valid base64: %v", err)
			return
		}

		op := "extract:" + uuid.NewString()
		if deps.Recorder != nil {
			deps.Recorder.StartTimer(op)
		}

		job := deps.Extractor.Start(data)
		var extractErr error
		for _, err := range job.Pages(r.Context()) {
			if err != nil {
				extractErr = err
				break
			}
		}
		_, pages := job.Progress()

		if deps.Recorder != nil {
			deps.Recorder.EndTimer(op, map[string]string{
				"pages":   strconv.Itoa(pages),
				"bytes":   strconv.Itoa(len(data)),
				"success": strconv.FormatBool(extractErr == nil),
			})
		}

		if extractErr != nil {
			writeError(w, deps.Logger, extractErr)
			return
		}
		writeJSON(w, http.StatusOK, extractResponse{Text: job.Text(), Pages: pages})
	}
}

// decodeBase64 accepts standard or URL-safe encodings, with or without
// padding, optionally wrapped in a data URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	s = strings.TrimRight(s, "=")
	if data, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
