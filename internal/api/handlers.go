// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package api

import (
	"encoding/json"
	stderr "errors"
	"net/http"
	"strconv"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/ingest"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/sosodev/duration"
)

type (
	errorBody struct {
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
	}

	healthBody struct {
		Status        string  `json:"status"`
		Ingest        string  `json:"ingest"`
		Sensors       int     `json:"sensors"`
		Uptime        string  `json:"uptime"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
)

func (s *Server) getJams(w http.ResponseWriter, r *http.Request) {
	jams, err := s.detector.Jams(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, jams)
}

func (s *Server) getNodes(w http.ResponseWriter, r *http.Request) {
	segs, err := s.reader.All(r.Context())
	if err != nil {
		s.fail(w, r, storeError("cannot read segments", err))
		return
	}
	if segs == nil {
		segs = []store.Segment{}
	}
	s.json(w, r, http.StatusOK, segs)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		s.json(w, r, http.StatusBadRequest, errorBody{
			Error: "invalid segment id " + strconv.Quote(raw),
		})
		return
	}

	seg, ok, err := s.reader.Get(r.Context(), id)
	switch {
	case err != nil:
		s.fail(w, r, storeError("cannot read segment", err))
	case !ok:
		s.json(w, r, http.StatusNotFound, errorBody{
			Error: "unknown segment " + strconv.Itoa(id),
		})
	default:
		s.json(w, r, http.StatusOK, seg)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	uptime := s.clock.Now().Sub(s.started)
	body := healthBody{
		Status:        "unknown",
		Ingest:        "unknown",
		Sensors:       s.sensors,
		Uptime:        duration.Format(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	if s.ingest != nil {
		state := s.ingest.State()
		body.Ingest = state.String()
		switch state {
		case ingest.Subscribed, ingest.Receiving:
			body.Status = "ok"
		default:
			body.Status = "degraded"
		}
	}
	s.json(w, r, http.StatusOK, body)
}

// fail writes a structured error. Store failures map to 503, anything else
// to 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn(r.Context(), err)

	code := http.StatusInternalServerError
	body := errorBody{Error: "internal error"}

	var e *errors.Error
	if stderr.As(err, &e) {
		body.Error = e.Message
		body.Kind = e.Kind.String()
		if e.Kind == errors.StoreUnavailable {
			code = http.StatusServiceUnavailable
		}
	}
	s.json(w, r, code, body)
}

func (s *Server) json(
	w http.ResponseWriter,
	r *http.Request,
	code int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn(r.Context(), err)
	}
}

func storeError(msg string, err error) error {
	if errors.IsKind(err, errors.StoreUnavailable) {
		return err
	}
	return errors.Store(msg, err)
}
