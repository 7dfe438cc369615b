package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/pipeline"
	"github.com/caseworks/docpipe/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP intake server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := newMux(ctx, env.Store, env.Orchestrator)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newMux builds the intake API routes. execCtx outlives individual requests
// so asynchronous pipeline runs survive the request that queued them.
func newMux(execCtx context.Context, st store.Store, orch *pipeline.Orchestrator) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /documents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Source      string `json:"source"`
			CaseID      string `json:"case_id"`
			Name        string `json:"name"`
			ContentType string `json:"content_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Source == "" || req.CaseID == "" {
			http.Error(w, `{"error":"source and case_id are required"}`, http.StatusBadRequest)
			return
		}

		name := req.Name
		if name == "" {
			name = req.Source
		}

		doc, err := st.CreateDocument(r.Context(), model.Document{
			CaseID:      req.CaseID,
			Name:        name,
			Source:      req.Source,
			ContentType: req.ContentType,
		})
		if err != nil {
			http.Error(w, `{"error":"create document failed"}`, http.StatusInternalServerError)
			return
		}

		run, err := st.CreateRun(r.Context(), doc.ID)
		if err != nil {
			http.Error(w, `{"error":"create run failed"}`, http.StatusInternalServerError)
			return
		}

		// Run the pipeline asynchronously; progress is visible via GET /runs/{id}.
		go func() {
			if err := orch.Execute(execCtx, run.ID); err != nil {
				zap.L().Error("async run failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"document_id": doc.ID,
			"run_id":      run.ID,
			"status":      string(run.Status),
		})
	})

	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status:     model.RunStatus(r.URL.Query().Get("status")),
			DocumentID: r.URL.Query().Get("document_id"),
			Limit:      queryInt(r, "limit", 50),
			Offset:     queryInt(r, "offset", 0),
		}
		runs, err := st.ListRuns(r.Context(), filter)
		if err != nil {
			http.Error(w, `{"error":"list runs failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"get run failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("POST /runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := st.RequestCancel(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"run not found or not cancellable"}`, http.StatusConflict)
				return
			}
			http.Error(w, `{"error":"cancel failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": id,
			"status": "cancel_requested",
		})
	})

	mux.HandleFunc("GET /findings", func(w http.ResponseWriter, r *http.Request) {
		filter := store.FindingFilter{
			RunID:  r.URL.Query().Get("run_id"),
			CaseID: r.URL.Query().Get("case_id"),
			Status: model.FindingStatus(r.URL.Query().Get("status")),
			Limit:  queryInt(r, "limit", 100),
			Offset: queryInt(r, "offset", 0),
		}
		findings, err := st.ListFindings(r.Context(), filter)
		if err != nil {
			http.Error(w, `{"error":"list findings failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, findings)
	})

	mux.HandleFunc("POST /findings/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		f, err := st.ResolveFinding(r.Context(), r.PathValue("id"), model.FindingStatus(req.Status))
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"finding not found"}`, http.StatusNotFound)
		case errors.Is(err, store.ErrNotResolvable):
			http.Error(w, `{"error":"finding is not resolvable to that status"}`, http.StatusConflict)
		case err != nil:
			http.Error(w, `{"error":"resolve failed"}`, http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, f)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
