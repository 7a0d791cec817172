package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.RunTimeout)
		defer cancel()
	}

	res, err := s.deps.Runner.RunPass(ctx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, failedResult(err))
	case err != nil:
		s.logger.Error("manual fusion pass failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, failedResult(err))
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func failedResult(err error) fusion.Result {
	return fusion.Result{Success: false, Errors: []string{err.Error()}}
}

type clusterList struct {
	Clusters []domain.Cluster `json:"clusters"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	f, err := parseClusterFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	clusters, err := s.deps.Clusters.ListClusters(r.Context(), f)
	if err != nil {
		s.logger.Error("list clusters failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("list clusters failed"))
		return
	}
	if clusters == nil {
		clusters = []domain.Cluster{}
	}
	writeJSON(w, http.StatusOK, clusterList{Clusters: clusters, Limit: f.Limit, Offset: f.Offset})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.deps.Clusters.GetCluster(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrClusterNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.Error("get cluster failed", "cluster_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("get cluster failed"))
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

// parseClusterFilter reads list filters from the query string. bbox is
// "minLng,minLat,maxLng,maxLat".
func parseClusterFilter(r *http.Request) (domain.ClusterFilter, error) {
	q := r.URL.Query()
	f := domain.ClusterFilter{Limit: domain.DefaultClusterLimit}

	if v := q.Get("event_type"); v != "" {
		et, err := domain.ParseEventType(v)
		if err != nil {
			return f, err
		}
		f.EventType = et
	}
	if v := q.Get("status"); v != "" {
		status, ok := domain.ParseVerificationStatus(v)
		if !ok {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Status = status
	}
	if v := q.Get("min_confidence"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > domain.MaxConfidence {
			return f, fmt.Errorf("min_confidence must be an integer between 0 and %d", domain.MaxConfidence)
		}
		f.MinConfidence = n
	}
	f.State = strings.ToUpper(strings.TrimSpace(q.Get("state")))

	if v := q.Get("bbox"); v != "" {
		bbox, err := parseBBox(v)
		if err != nil {
			return f, err
		}
		f.BBox = &bbox
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, domain.MaxClusterLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func parseBBox(v string) (domain.BoundingBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, errors.New("bbox must be minLng,minLat,maxLng,maxLat")
	}
	var vals [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("bbox value %q is not a number", p)
		}
		vals[i] = n
	}
	b := domain.BoundingBox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return domain.BoundingBox{}, errors.New("bbox minimums must not exceed maximums")
	}
	return b, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
