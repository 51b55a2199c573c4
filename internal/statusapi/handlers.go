package statusapi

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

// workerStatusView is one worker row rendered on the status page and
// returned verbatim in the JSON endpoint.
type workerStatusView struct {
	WorkerID        int   `json:"worker_id"`
	PID             int64 `json:"pid"`
	ConnCount       int64 `json:"conn_count"`
	SendOK          int64 `json:"send_ok"`
	SendEAGAIN      int64 `json:"send_eagain"`
	SendENOBUFS     int64 `json:"send_enobufs"`
	ZeroCopyCopied  int64 `json:"zero_copy_copied"`
	BatchFlushes    int64 `json:"batch_flushes"`
	TimeoutFlushes  int64 `json:"timeout_flushes"`
	PoolTotal       int64 `json:"pool_total"`
	PoolFree        int64 `json:"pool_free"`
	PoolExpansions  int64 `json:"pool_expansions"`
	PoolExhaustions int64 `json:"pool_exhaustions"`
}

func (s *Server) collectWorkerStats() []workerStatusView {
	views := make([]workerStatusView, 0, len(s.workerIDs))
	for _, id := range s.workerIDs {
		st, err := s.region.ReadWorkerStats(id)
		if err != nil {
			continue
		}
		views = append(views, workerStatusView{
			WorkerID: id, PID: st.PID, ConnCount: st.ConnCount,
			SendOK: st.SendOK, SendEAGAIN: st.SendEAGAIN, SendENOBUFS: st.SendENOBUFS,
			ZeroCopyCopied: st.ZeroCopyCopied, BatchFlushes: st.BatchFlushes,
			TimeoutFlushes: st.TimeoutFlushes, PoolTotal: st.PoolTotal,
			PoolFree: st.PoolFree, PoolExpansions: st.PoolExpansions,
			PoolExhaustions: st.PoolExhaustions,
		})
	}
	return views
}

func (s *Server) handleStatusJSON(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.collectWorkerStats()})
}

var statusPageTmpl = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html><head><title>rtp2httpd status</title></head><body>
<h1>Workers</h1>
<table border="1">
<tr><th>ID</th><th>PID</th><th>Conns</th><th>Send OK</th><th>EAGAIN</th><th>ENOBUFS</th><th>ZC Copied</th></tr>
{{range .}}<tr><td>{{.WorkerID}}</td><td>{{.PID}}</td><td>{{.ConnCount}}</td><td>{{.SendOK}}</td><td>{{.SendEAGAIN}}</td><td>{{.SendENOBUFS}}</td><td>{{.ZeroCopyCopied}}</td></tr>
{{end}}
</table>
</body></html>`))

func (s *Server) handleStatusPage(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = statusPageTmpl.Execute(c.Writer, s.collectWorkerStats())
}

var playerPageTmpl = template.Must(template.New("player").Parse(`<!DOCTYPE html>
<html><head><title>rtp2httpd player</title></head><body>
<video controls autoplay src="{{.}}"></video>
</body></html>`))

func (s *Server) handlePlayerPage(c *gin.Context) {
	service := c.Query("service")
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = playerPageTmpl.Execute(c.Writer, "/"+service)
}
