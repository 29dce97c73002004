package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trade-journal-go/internal/analytics"
)

func (s *Server) registerAnalytics(r *gin.RouterGroup) {
	g := r.Group("/analytics")
	g.GET("/state", s.analyticsState)
	g.PUT("/filter", s.updateFilter)
	g.PUT("/aggregation", s.updateAggregation)
	g.GET("/charts/:type", s.chart)
	g.GET("/cache", s.cacheStats)
	r.POST("/enrich", s.enrich)
}

// analyticsState returns the last published state. include_trades=false
// drops the filtered trade list.
func (s *Server) analyticsState(c *gin.Context) {
	state := PresentState(s.engine.Analytics().State())
	if c.Query("include_trades") == "false" {
		state.FilteredTrades = nil
	}
	Ok(c, state)
}

// updateFilter validates and submits a filter. The recompute is debounced, so
// the response acknowledges the submission only.
func (s *Server) updateFilter(c *gin.Context) {
	var f analytics.Filter
	if err := c.ShouldBindJSON(&f); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := f.Validate(); err != nil {
		Fail(c, err)
		return
	}
	s.engine.Analytics().UpdateFilters(f)
	Accepted(c, f)
}

func (s *Server) updateAggregation(c *gin.Context) {
	var agg analytics.AggregationConfig
	if err := c.ShouldBindJSON(&agg); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := agg.Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	s.engine.Analytics().UpdateAggregation(agg)
	Accepted(c, agg)
}

func (s *Server) chart(c *gin.Context) {
	cfg := analytics.ChartConfig{Period: analytics.AggregationPeriod(c.Query("period"))}
	if err := (analytics.AggregationConfig{Period: cfg.Period}).Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if raw := c.Query("bucket_size"); raw != "" {
		size, err := strconv.ParseFloat(raw, 64)
		if err != nil || size <= 0 {
			Error(c, http.StatusBadRequest, "bucket_size must be a positive number")
			return
		}
		cfg.BucketSize = size
	}

	series, err := s.engine.Analytics().ChartData(analytics.ChartType(c.Param("type")), cfg)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, RoundSeries(series))
}

func (s *Server) cacheStats(c *gin.Context) {
	Ok(c, s.engine.Analytics().CacheStats())
}

func (s *Server) enrich(c *gin.Context) {
	force := c.Query("force") == "true"
	report, err := s.engine.Enrich(c.Request.Context(), force)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, report)
}
