package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-journal-go/internal/importer"
	"trade-journal-go/internal/models"
)

// maxImportSize bounds uploaded exports.
const maxImportSize = 32 << 20

func (s *Server) registerTrades(r *gin.RouterGroup) {
	g := r.Group("/trades")
	g.GET("", s.listTrades)
	g.PUT("", s.replaceTrades)
	g.PATCH("", s.upsertTrades)
	g.DELETE("", s.clearTrades)
	g.POST("/import", s.importTrades)
	g.GET("/:id", s.getTrade)
}

func (s *Server) listTrades(c *gin.Context) {
	Ok(c, s.engine.Store().All())
}

func (s *Server) getTrade(c *gin.Context) {
	trade, ok := s.engine.Store().Get(c.Param("id"))
	if !ok {
		Error(c, http.StatusNotFound, "trade not found")
		return
	}
	Ok(c, trade)
}

// replaceTrades swaps in the posted trades. Trades without an id get a fresh
// one, as on import.
func (s *Server) replaceTrades(c *gin.Context) {
	var trades []models.Trade
	if err := c.ShouldBindJSON(&trades); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	for i := range trades {
		if trades[i].ID == "" {
			trades[i].ID = uuid.NewString()
		}
	}
	s.engine.Store().Replace(trades)
	Ok(c, gin.H{"count": s.engine.Store().Len(), "version": s.engine.Store().Version()})
}

func (s *Server) upsertTrades(c *gin.Context) {
	var patches []models.TradePatch
	if err := c.ShouldBindJSON(&patches); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	updated := s.engine.Store().Upsert(patches)
	Ok(c, gin.H{"updated": updated, "version": s.engine.Store().Version()})
}

func (s *Server) clearTrades(c *gin.Context) {
	s.engine.Store().Clear()
	Ok(c, gin.H{"version": s.engine.Store().Version()})
}

// importTrades accepts a multipart "file" field or the export as the raw
// body. mode=append merges into the journal; the default replaces it.
func (s *Server) importTrades(c *gin.Context) {
	data, name, err := readUpload(c)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	format := importer.Format(strings.ToLower(c.Query("format")))
	if format == "" {
		format = importer.DetectFormat(name, data)
	}
	result, err := importer.Parse(bytes.NewReader(data), format)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, apiResponse{Code: http.StatusUnprocessableEntity, Message: "no trades imported", Data: result})
		return
	}

	replace := c.DefaultQuery("mode", "replace") != "append"
	imported := s.engine.ImportTrades(result.Trades, replace)
	s.logger.Info("Trades imported",
		zap.Int("imported", imported),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("replace", replace),
	)
	Ok(c, result)
}

func readUpload(c *gin.Context) ([]byte, string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		f, err := header.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxImportSize))
		return data, header.Filename, err
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	return data, c.Query("filename"), err
}
