package api

import (
	"bytes"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/watchgrid/proximity.report/internal/httputil"
)

// occupancyChart renders an HTML line chart of recent occupancy for one
// area. Debugging endpoint; the dashboard renders its own charts from the
// JSON API.
func (s *Server) occupancyChart(w http.ResponseWriter, r *http.Request) {
	samples, areaName, ok := s.occupancyRange(w, r)
	if !ok {
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "no occupancy samples in range")
		return
	}

	x := make([]string, 0, len(samples))
	occ := make([]opts.LineData, 0, len(samples))
	vio := make([]opts.LineData, 0, len(samples))
	for _, sm := range samples {
		x = append(x, sm.SampledAt.Format("01-02 15:04"))
		occ = append(occ, opts.LineData{Value: sm.Occupancy})
		vio = append(vio, opts.LineData{Value: sm.ViolationSeconds})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Occupancy: " + areaName,
			Subtitle: "samples per evaluation tick",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "people"}),
	)
	line.SetXAxis(x).
		AddSeries("occupancy", occ).
		AddSeries("violation-seconds", vio,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
