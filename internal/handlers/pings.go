package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/metrics"
	"github.com/gluk-w/pingmatrix/internal/model"
	"github.com/gluk-w/pingmatrix/internal/respond"
	"github.com/gluk-w/pingmatrix/internal/storage"
)

const maxIngestBody = 64 << 10

var (
	Store  storage.Store
	Stream *Hub
)

type listPingsResponse struct {
	Pings []model.Measurement `json:"pings"`
}

// ListPings returns the full current snapshot.
func ListPings(w http.ResponseWriter, r *http.Request) {
	pings, err := Store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list pings")
		respond.Error(w, http.StatusInternalServerError, "failed to list pings")
		return
	}
	if pings == nil {
		pings = []model.Measurement{}
	}
	metrics.StoredPairs.Set(float64(len(pings)))
	respond.JSON(w, http.StatusOK, listPingsResponse{Pings: pings})
}

type createPingRequest struct {
	Src       *string `json:"src"`
	Dst       *string `json:"dst"`
	LatencyMs *int64  `json:"latency_ms"`
}

func decodeMeasurement(body io.Reader) (model.Measurement, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	var req createPingRequest
	if err := dec.Decode(&req); err != nil {
		return model.Measurement{}, fmt.Errorf("invalid JSON body: %v", err)
	}
	if dec.More() {
		return model.Measurement{}, errors.New("invalid JSON body: trailing data")
	}
	switch {
	case req.Src == nil:
		return model.Measurement{}, errors.New("missing field: src")
	case req.Dst == nil:
		return model.Measurement{}, errors.New("missing field: dst")
	case req.LatencyMs == nil:
		return model.Measurement{}, errors.New("missing field: latency_ms")
	}
	m := model.Measurement{Source: *req.Src, Destination: *req.Dst, LatencyMillis: *req.LatencyMs}
	if err := m.Validate(); err != nil {
		return model.Measurement{}, err
	}
	return m, nil
}

// CreatePing stores one measurement pushed by an agent. Allowlist and
// content type are enforced by middleware in front of it.
func CreatePing(w http.ResponseWriter, r *http.Request) {
	m, err := decodeMeasurement(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		ingestResult(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := Store.Upsert(r.Context(), m); err != nil {
		if errors.Is(err, model.ErrInvalidMeasurement) {
			ingestResult(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("src", m.Source).Str("dst", m.Destination).Msg("store ping")
		ingestResult(w, http.StatusInternalServerError, "failed to store ping")
		return
	}
	if Stream != nil {
		Stream.Publish(m)
	}
	metrics.IngestTotal.WithLabelValues(strconv.Itoa(http.StatusCreated)).Inc()
	w.WriteHeader(http.StatusCreated)
}

func ingestResult(w http.ResponseWriter, status int, detail string) {
	metrics.IngestTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	respond.Error(w, status, detail)
}
