package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Durable/internal/client"
)

// maxInputSize — предел размера входа orchestration.
const maxInputSize = 1 << 20

// startTime — время запуска процесса для /healthz.
var startTime = time.Now()

// StartDefault запускает orchestration по умолчанию без входа.
// GET|POST /api/v1/run
func (h *Handler) StartDefault(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.defaultName, nil)
}

// StartOrchestration запускает orchestration по имени.
// Тело запроса (необязательно) — JSON вход orchestration.
// POST /api/v1/orchestrations/{name}?instanceId=...
func (h *Handler) StartOrchestration(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputSize+1))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}
	if len(body) > maxInputSize {
		BadRequest(w, "request body too large")
		return
	}

	var input json.RawMessage
	if len(strings.TrimSpace(string(body))) > 0 {
		if !json.Valid(body) {
			BadRequest(w, "invalid request body")
			return
		}
		input = body
	}

	h.start(w, r, r.PathValue("name"), input)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, name string, input json.RawMessage) {
	handle, err := h.client.StartNew(r.Context(), name, input, client.StartOptions{
		InstanceID: queryValue(r.URL.Query(), "instanceId"),
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, h.checkStatus(r, handle))
}

// checkStatus строит ответ с URI для опроса instance.
func (h *Handler) checkStatus(r *http.Request, handle *client.Handle) CheckStatusResponse {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	base = strings.TrimSuffix(base, "/")
	id := url.PathEscape(handle.InstanceID)

	return CheckStatusResponse{
		ID:                handle.InstanceID,
		Name:              handle.Name,
		Created:           handle.Created,
		StatusQueryGetURI: fmt.Sprintf("%s/api/v1/instances/%s", base, id),
		HistoryGetURI:     fmt.Sprintf("%s/api/v1/instances/%s/history", base, id),
		TerminatePostURI:  fmt.Sprintf("%s/api/v1/terminate?instanceId=%s", base, url.QueryEscape(handle.InstanceID)),
	}
}

// ListInstances отдаёт незавершённые instances потоком NDJSON.
// GET /api/v1/instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	var (
		enc     *json.Encoder
		flusher http.Flusher
		count   int
	)

	for inst, err := range h.client.ListActiveInstances(r.Context()) {
		if err != nil {
			if enc == nil {
				HandleError(w, h.logger, err)
				return
			}
			// Заголовок уже отправлен — обрываем поток.
			h.logger.Error("instance listing interrupted", "error", err, "written", count)
			return
		}

		if enc == nil {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			enc = json.NewEncoder(w)
			flusher, _ = w.(http.Flusher)
		}

		if err := enc.Encode(InstanceFromDomain(inst)); err != nil {
			h.logger.Warn("failed to write instance", "instance_id", inst.ID, "error", err)
			return
		}
		count++
		if flusher != nil {
			flusher.Flush()
		}
	}

	if enc == nil {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// GetInstance возвращает instance по ID.
// GET /api/v1/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.client.GetStatus(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, InstanceFromDomain(*inst))
}

// GetHistory возвращает историю instance.
// GET /api/v1/instances/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.client.History(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]HistoryEventResponse, len(history))
	for i, ev := range history {
		result[i] = HistoryEventFromDomain(ev)
	}

	List(w, result, len(result))
}

// Terminate запрашивает остановку instance.
// Ключи query instanceId и reason сравниваются без учёта регистра.
// Отсутствующий или неизвестный instanceId даёт 200 с outcome=noop.
// GET|POST /api/v1/terminate?instanceId=...&reason=...
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id := queryValue(query, "instanceId")
	reason := queryValue(query, "reason")

	outcome, err := h.client.Terminate(r.Context(), id, reason)
	if HandleError(w, h.logger, err) {
		return
	}

	resp := TerminateResponse{Outcome: outcome, InstanceID: id}
	if outcome == client.OutcomeNoOp {
		Success(w, resp)
		return
	}

	resp.Reason = reason
	if resp.Reason == "" {
		resp.Reason = client.DefaultTerminateReason
	}
	Accepted(w, resp)
}

// Health — liveness probe.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok %s", time.Since(startTime))
}

// queryValue ищет параметр query без учёта регистра ключа.
func queryValue(q url.Values, key string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	for k, values := range q {
		if strings.EqualFold(k, key) && len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}
	return ""
}
