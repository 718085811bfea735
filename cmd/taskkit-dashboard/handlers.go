// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Handler serves the dashboard's HTTP routes over an Inspector. Output is
// rendered directly rather than through template files, since the
// dashboard ships as a single static binary with no asset directory to
// embed.
type Handler struct {
	inspector *Inspector
}

// NewHandler creates a new Handler.
func NewHandler(inspector *Inspector) *Handler {
	return &Handler{inspector: inspector}
}

// RegisterRoutes registers HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleDashboard)
	mux.HandleFunc("/groups", h.handleGroups)
	mux.HandleFunc("/groups/", h.handleGroupTasks)
	mux.HandleFunc("/schedulers", h.handleSchedulers)
	mux.HandleFunc("/api/stats", h.handleAPIStats)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	stats, err := h.inspector.GetDashboardStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writePage(w, "taskkit", fmt.Sprintf(`
<h1>taskkit</h1>
<table>
<tr><td>groups</td><td>%d</td></tr>
<tr><td>pending</td><td>%d</td></tr>
<tr><td>ready</td><td>%d</td></tr>
<tr><td>running</td><td>%d</td></tr>
<tr><td>schedulers</td><td>%d</td></tr>
</table>
<p><a href="/groups">groups</a> &middot; <a href="/schedulers">schedulers</a></p>`,
		stats.TotalGroups, stats.TotalPending, stats.TotalReady, stats.TotalRunning, stats.TotalSchedulers))
}

func (h *Handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.inspector.GetGroups(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	b.WriteString("<h1>groups</h1><table><tr><th>name</th><th>pending</th><th>ready</th><th>running</th></tr>")
	for _, g := range groups {
		fmt.Fprintf(&b, `<tr><td><a href="/groups/%s">%s</a></td><td>%d</td><td>%d</td><td>%d</td></tr>`,
			g.Name, g.Name, g.Pending, g.Ready, g.Running)
	}
	b.WriteString("</table>")
	writePage(w, "groups", b.String())
}

func (h *Handler) handleGroupTasks(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimPrefix(r.URL.Path, "/groups/")
	if group == "" {
		http.Redirect(w, r, "/groups", http.StatusFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	tasks, err := h.inspector.GetTasks(r.Context(), group, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>group %s</h1><table><tr><th>id</th><th>name</th><th>due_at</th><th>retries</th><th>assignee</th></tr>", group)
	for _, t := range tasks {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>",
			t.ID, t.Name, t.DueAt.Format("2006-01-02T15:04:05Z"), t.RetryCount, t.Assignee)
	}
	b.WriteString("</table>")
	writePage(w, "group "+group, b.String())
}

func (h *Handler) handleSchedulers(w http.ResponseWriter, r *http.Request) {
	scheds, err := h.inspector.GetSchedulers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	b.WriteString("<h1>schedulers</h1><table><tr><th>name</th><th>holder</th><th>entries</th><th>lease active</th></tr>")
	for _, s := range scheds {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%d</td><td>%v</td></tr>", s.Name, s.Holder, s.EntryCount, s.LeaseActive)
	}
	b.WriteString("</table>")
	writePage(w, "schedulers", b.String())
}

func (h *Handler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inspector.GetDashboardStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_groups":%d,"total_pending":%d,"total_ready":%d,"total_running":%d,"total_schedulers":%d}`,
		stats.TotalGroups, stats.TotalPending, stats.TotalReady, stats.TotalRunning, stats.TotalSchedulers)
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><html><head><title>%s</title></head><body>%s</body></html>", title, body)
}
