package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/m-lab/datamart-export/exporter"
)

// Exporter runs a full export of the configured tables.
type Exporter interface {
	Run(ctx context.Context) *exporter.Summary
}

// Handler triggers exports over HTTP.
type Handler struct {
	exporter Exporter

	// exportCanRun holds a token while no export is running.
	exportCanRun chan struct{}
}

type exportResult struct {
	Exported []string `json:"exported"`
	Errors   []string `json:"errors"`
}

// NewHandler returns a Handler running the provided exporter.
func NewHandler(ex Exporter) *Handler {
	h := &Handler{
		exporter:     ex,
		exportCanRun: make(chan struct{}, 1),
	}
	h.exportCanRun <- struct{}{}
	return h
}

// ServeHTTP handles requests to the /v0/export endpoint.
// Every configured table is exported and the response lists the exported
// tables and the errors for the failed ones. Partial failures still return
// 200; only one export can run at a time.
//
// This endpoint accepts only POST requests.
func (h *Handler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	result := exportResult{
		Exported: []string{},
		Errors:   []string{},
	}
	if req.Method != http.MethodPost {
		result.Errors = append(result.Errors, errMethodNotAllowed.Error())
		sendResponse(rw, http.StatusMethodNotAllowed, result)
		return
	}

	select {
	case <-h.exportCanRun:
		defer func() { h.exportCanRun <- struct{}{} }()
	default:
		result.Errors = append(result.Errors, errAlreadyRunning.Error())
		sendResponse(rw, http.StatusConflict, result)
		return
	}

	log.Print("Export triggered over HTTP")
	summary := h.exporter.Run(req.Context())
	for _, r := range summary.Results {
		if r.Err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Table, r.Err))
			continue
		}
		result.Exported = append(result.Exported, r.Table)
	}
	sendResponse(rw, http.StatusOK, result)
}

func sendResponse(rw http.ResponseWriter, statusCode int, result exportResult) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	if err := json.NewEncoder(rw).Encode(result); err != nil {
		log.Printf("Cannot write response: %v", err)
	}
}
