package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"paperchat/internal/rag"
	"paperchat/internal/util"
)

type apiError struct {
	Kind    string
	Code    string
	Message string
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	if code >= 500 {
		log.Printf("[api] %d %s: %v", code, apiErr.Code, err)
	}
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"kind":    apiErr.Kind,
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// statusFor maps an error to the HTTP status of the structured response.
func statusFor(err error) int {
	switch util.KindOf(err) {
	case util.KindExtraction:
		return http.StatusUnprocessableEntity
	case util.KindUnknownDocument:
		return http.StatusNotFound
	case util.KindIndexWrite:
		return http.StatusBadGateway
	case util.KindSynthesis:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, rag.ErrEmptyQuestion) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func toAPIError(status int, err error) apiError {
	kind := string(util.KindOf(err))
	switch util.Kind(kind) {
	case util.KindExtraction:
		return apiError{Kind: kind, Code: "PC-EXT-4220", Message: "The PDF could not be read or has no extractable text. " + detail(err)}
	case util.KindUnknownDocument:
		return apiError{Kind: kind, Code: "PC-DOC-4040", Message: "Document has not been successfully ingested."}
	case util.KindIndexWrite:
		return apiError{Kind: kind, Code: "PC-IDX-5020", Message: "Embedding or index write failed; previous index state was kept. Retry shortly."}
	case util.KindSynthesis:
		if status == http.StatusGatewayTimeout {
			return apiError{Kind: kind, Code: "PC-LLM-5040", Message: "Language model timed out. Retry the question."}
		}
		return apiError{Kind: kind, Code: "PC-LLM-5020", Message: "Language model unavailable. Retry the question shortly."}
	}

	out := apiError{Kind: "request_error", Code: "PC-API-4000", Message: "Request failed."}
	switch {
	case status >= 500:
		out = apiError{Kind: "internal", Code: "PC-API-5000", Message: "Internal server error. Please retry or check service logs."}
	case status == http.StatusBadRequest:
		out.Code, out.Message = "PC-API-4001", "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		out.Code, out.Message = "PC-API-4004", "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		out.Code, out.Message = "PC-API-4005", "This endpoint does not support the requested method."
	}
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, rag.ErrEmptyQuestion):
			out.Message = "Message is required."
		case errors.Is(err, errNoFiles):
			out.Message = "No PDF files were provided."
		case strings.Contains(low, "invalid json"):
			out.Message = "Malformed JSON request body."
		case strings.Contains(low, "request body too large"):
			out.Message = "Upload exceeds the configured size limit."
		}
	}
	return out
}

func detail(err error) string {
	if errors.Is(err, util.ErrNoExtractableText) {
		return "No text layer was found (scanned pages are not supported)."
	}
	if errors.Is(err, util.ErrNotPDF) {
		return "The file is not a PDF."
	}
	return ""
}
