package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-loom/loom/pkg/compose"
)

// inspector serves read-only views of a running composition over HTTP:
// the reconciled tree, the scope table, and runtime counters. Handlers
// hold the runtime lock only while snapshotting; encoding happens after
// release.
type inspector struct {
	rt       *Runtime
	server   *http.Server
	listener net.Listener
}

// startInspector binds the listener first to fail fast on address
// conflicts, then serves in the background.
func startInspector(rt *Runtime, addr string) (*inspector, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("inspector listen: %w", err)
	}

	insp := &inspector{rt: rt, listener: listener}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", insp.handleHealth)
	mux.HandleFunc("/tree", insp.handleTree)
	mux.HandleFunc("/scopes", insp.handleScopes)
	mux.HandleFunc("/stats", insp.handleStats)

	insp.server = &http.Server{Handler: mux}
	go func() {
		if err := insp.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("inspector error: %v\n", err)
		}
	}()
	return insp, nil
}

// addr returns the bound listen address, useful with port 0.
func (i *inspector) addr() string {
	return i.listener.Addr().String()
}

func (i *inspector) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	i.server.Shutdown(ctx)
}

func (i *inspector) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","instance":%q}`, i.rt.id.String())
}

func (i *inspector) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			http.Error(w, fmt.Sprintf("panic: %v", rec), http.StatusInternalServerError)
		}
	}()

	i.rt.mu.Lock()
	tree := i.rt.composer.Resolved()
	i.rt.mu.Unlock()
	if tree == nil {
		http.Error(w, "no composition mounted", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, tree)
}

func (i *inspector) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	i.rt.mu.Lock()
	scopes := i.rt.store.Scopes()
	i.rt.mu.Unlock()

	resp := struct {
		Scopes []compose.ScopeInfo `json:"scopes"`
	}{Scopes: scopes}
	writeJSON(w, resp)
}

func (i *inspector) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, i.rt.Stats())
}

// writeJSON encodes to a buffer first so encoding failures surface as
// errors instead of a truncated 200 response.
func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, fmt.Sprintf("json encode error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
