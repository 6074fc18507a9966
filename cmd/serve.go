package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/engine"
	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the engine as an HTTP control server with an SSE event stream",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}
		addr, _ := cmd.Flags().GetString("addr")

		mux := http.NewServeMux()
		registerRoutes(mux, eng)

		elog.With("cmd").Info().Str("addr", addr).Msg("control server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			fatal(fmt.Errorf("cmd: serve: %w", err))
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8787", "address the control server listens on")
}

// registerRoutes wires the engine facade behind a small HTTP control API:
// every handler does nothing but decode/encode JSON and call straight
// through to the one shared Engine (spec.md §4.1 "expose its internal state
// only through the facade").
func registerRoutes(mux *http.ServeMux, eng *engine.Engine) {
	mux.HandleFunc("POST /tasks", handleEnqueue(eng))
	mux.HandleFunc("GET /tasks", handleList(eng))
	mux.HandleFunc("GET /tasks/{id}", handleGet(eng))
	mux.HandleFunc("DELETE /tasks/{id}", handleCancel(eng))
	mux.HandleFunc("POST /tasks/{id}/pause", handlePause(eng))
	mux.HandleFunc("POST /tasks/{id}/resume", handleResume(eng))
	mux.HandleFunc("POST /groups/{group}/track", handleTrack(eng))
	mux.HandleFunc("POST /groups/{group}/reset", handleReset(eng))
	mux.HandleFunc("GET /events", handleEvents(eng))
}

func handleEnqueue(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t task.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if t.TaskID == "" {
			t.TaskID = uuid.NewString()
		}
		if !eng.Enqueue(&t, nil) {
			http.Error(w, "task rejected", http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": t.TaskID})
	}
}

func handleList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := r.URL.Query().Get("group")
		writeJSON(w, http.StatusOK, eng.AllTasks(group, true))
	}
}

func handleGet(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := eng.TaskForID(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleCancel(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !eng.CancelTasksWithIDs([]string{r.PathValue("id")}) {
			http.Error(w, "task not cancelable", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePause(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !eng.Pause(r.PathValue("id")) {
			http.Error(w, "task not pauseable", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResume(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !eng.Resume(r.PathValue("id"), nil) {
			http.Error(w, "task has no resume data", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTrack(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		markComplete := r.URL.Query().Get("mark_downloaded_complete") == "true"
		eng.TrackTasks(r.PathValue("group"), markComplete)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReset(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"canceled": eng.Reset(r.PathValue("group"))})
	}
}

// handleEvents streams the broadcast channel as server-sent events until
// the client disconnects (spec.md §4.6 event bus, consumed remotely).
func handleEvents(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case u := <-eng.Bus().Broadcast():
				payload, err := marshalUpdate(u)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}

func marshalUpdate(u events.TaskUpdate) ([]byte, error) {
	switch v := u.(type) {
	case *events.TaskStatusUpdate:
		return v.MarshalJSON()
	case *events.TaskProgressUpdate:
		return v.MarshalJSON()
	default:
		return json.Marshal(v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
