package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/export"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/reportstore"
)

// handleAnalyze validates and submits an analysis job.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()})
		return
	}

	jobID, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":       jobID,
		"statusUrl":   "/status/" + jobID,
		"progressUrl": "/progress/" + jobID,
		"reportUrl":   "/report-data?job_id=" + jobID,
		"downloadUrl": "/download?job_id=" + jobID,
	})
}

// handleStatus returns the job status snapshot for polling clients.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.jobs.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancel requests cooperative cancellation of a queued or running
// job. Cancellation is asynchronous; the terminal event arrives on the
// progress stream.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if _, err := s.jobs.Get(jobID); err != nil {
		writeError(w, err)
		return
	}
	if !s.jobs.Cancel(jobID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already finished"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "cancelling"})
}

// handleReportData serves the canonical report JSON.
func (s *Server) handleReportData(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, &model.ValidationError{Field: "job_id", Reason: "required"})
		return
	}

	rep, err := s.resolveReport(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleDownload streams an export artifact. The format check runs
// before the report lookup so an unsupported format is always 415,
// known job or not.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatExcel
	}
	wr, err := export.ForFormat(format)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, &model.ValidationError{Field: "job_id", Reason: "required"})
		return
	}

	rep, err := s.resolveReport(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", wr.MIME())
	w.Header().Set("Content-Disposition", `attachment; filename="`+wr.Filename(jobID)+`"`)
	if err := wr.Write(w, rep); err != nil {
		// Headers are already sent; all we can do is log the broken download.
		zap.L().Error("server: download write",
			zap.String("job_id", jobID),
			zap.String("format", format),
			zap.Error(err),
		)
	}
}

// resolveReport finds the stored report for jobID, mapping absence onto
// the status taxonomy: unknown job 404, job not yet terminal 409,
// expired artifact 410.
func (s *Server) resolveReport(ctx context.Context, jobID string) (*model.Report, error) {
	rep, err := s.reports.Get(ctx, jobID)
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, reportstore.ErrNotFound) {
		return nil, err
	}

	status, jerr := s.jobs.Get(jobID)
	if jerr != nil {
		return nil, jerr
	}
	if !status.State.IsTerminal() {
		return nil, errNotFinished
	}
	// Terminal job with nothing stored: failed or cancelled jobs never
	// persist a report.
	return nil, err
}

// handleHealth reports liveness. Healthy means the warehouse answers a
// ping; a service that cannot reach its warehouse cannot run any job.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.warehouse.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "warehouse unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.version})
}

// handleMetrics serves the operational snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleReport serves the static HTML shell; the report front-ends
// consume /report-data and /progress from it.
func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(reportShell))
}

const reportShell = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>JustData Report</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 60rem; color: #1a1a2e; }
#track { background: #e8e8f0; border-radius: 4px; height: 1rem; overflow: hidden; }
#bar { background: #2a6fdb; height: 100%; width: 0; transition: width .3s; }
#status { color: #555; }
pre { background: #f6f6fa; padding: 1rem; border-radius: 4px; overflow: auto; }
a { margin-right: 1rem; }
</style>
</head>
<body>
<h1>JustData Report</h1>
<div id="track"><div id="bar"></div></div>
<p id="status">Waiting for job</p>
<p id="downloads" hidden></p>
<pre id="report" hidden></pre>
<script>
const jobId = new URLSearchParams(location.search).get("job_id");
const statusEl = document.getElementById("status");
if (!jobId) {
  statusEl.textContent = "Missing job_id query parameter";
} else {
  const es = new EventSource("/progress/" + encodeURIComponent(jobId));
  es.onmessage = (msg) => {
    const ev = JSON.parse(msg.data);
    document.getElementById("bar").style.width = ev.percent + "%";
    statusEl.textContent = ev.status + (ev.substep ? " (" + ev.substep + ")" : "");
    if (ev.terminal) {
      es.close();
      if (ev.state === "Succeeded") { showReport(); }
    }
  };
  es.onerror = () => { statusEl.textContent = "Progress stream interrupted"; };
}
async function showReport() {
  const resp = await fetch("/report-data?job_id=" + encodeURIComponent(jobId));
  if (!resp.ok) { statusEl.textContent = "Report unavailable (" + resp.status + ")"; return; }
  const report = await resp.json();
  const pre = document.getElementById("report");
  pre.textContent = JSON.stringify(report, null, 2);
  pre.hidden = false;
  const downloads = document.getElementById("downloads");
  for (const f of ["excel", "pdf", "csv", "json", "zip"]) {
    const a = document.createElement("a");
    a.href = "/download?job_id=" + encodeURIComponent(jobId) + "&format=" + f;
    a.textContent = f;
    downloads.appendChild(a);
  }
  downloads.hidden = false;
}
</script>
</body>
</html>
`
