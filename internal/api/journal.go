package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trade-journal-go/internal/models"
	"trade-journal-go/internal/repository"
)

func (s *Server) registerJournal(r *gin.RouterGroup) {
	moods := r.Group("/moods")
	moods.GET("", s.listMoods)
	moods.PUT("", s.saveMood)
	moods.DELETE("/:date", s.deleteMood)

	notes := r.Group("/notes")
	notes.GET("", s.listNotes)
	notes.POST("", s.createNote)
	notes.GET("/:id", s.getNote)
	notes.PUT("/:id", s.updateNote)
	notes.DELETE("/:id", s.deleteNote)

	strategies := r.Group("/strategies")
	strategies.GET("", s.listStrategies)
	strategies.GET("/:model", s.getStrategy)
	strategies.POST("/:model/trades/:id", s.assignTrade)
	strategies.DELETE("/:model/trades/:id", s.unassignTrade)
}

func (s *Server) listMoods(c *gin.Context) {
	moods, err := s.engine.Repository().Moods(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, moods)
}

func (s *Server) saveMood(c *gin.Context) {
	var entry models.MoodEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Repository().SaveMood(c.Request.Context(), entry); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, entry)
}

func (s *Server) deleteMood(c *gin.Context) {
	if err := s.engine.Repository().DeleteMood(c.Request.Context(), c.Param("date")); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, nil)
}

func (s *Server) listNotes(c *gin.Context) {
	notes, err := s.engine.Repository().Notes(c.Request.Context(), repository.NoteQuery{
		Date:    c.Query("date"),
		TradeID: c.Query("trade_id"),
		Tag:     c.Query("tag"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, notes)
}

func (s *Server) createNote(c *gin.Context) {
	var note models.Note
	if err := c.ShouldBindJSON(&note); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	note.ID = ""
	if err := s.engine.Repository().CreateNote(c.Request.Context(), &note); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "created", Data: note})
}

func (s *Server) getNote(c *gin.Context) {
	note, err := s.engine.Repository().Note(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, note)
}

func (s *Server) updateNote(c *gin.Context) {
	var note models.Note
	if err := c.ShouldBindJSON(&note); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	note.ID = c.Param("id")
	if err := s.engine.Repository().UpdateNote(c.Request.Context(), &note); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, note)
}

func (s *Server) deleteNote(c *gin.Context) {
	if err := s.engine.Repository().DeleteNote(c.Request.Context(), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, nil)
}

func (s *Server) listStrategies(c *gin.Context) {
	modelIDs, err := s.engine.StrategyModels(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, modelIDs)
}

func (s *Server) getStrategy(c *gin.Context) {
	ctx := c.Request.Context()
	model := c.Param("model")

	assignments, err := s.engine.Repository().Assignments(ctx)
	if err != nil {
		Fail(c, err)
		return
	}
	stats, updated, err := s.engine.StrategyStats(ctx, model)
	if err != nil {
		Fail(c, err)
		return
	}
	tradeIDs := assignments[model]
	if tradeIDs == nil {
		tradeIDs = []string{}
	}
	Ok(c, gin.H{
		"model":        model,
		"trade_ids":    tradeIDs,
		"stats":        RoundSummary(stats),
		"last_updated": updated,
	})
}

func (s *Server) assignTrade(c *gin.Context) {
	if err := s.engine.Repository().AssignTrade(c.Request.Context(), c.Param("model"), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, nil)
}

func (s *Server) unassignTrade(c *gin.Context) {
	if err := s.engine.Repository().UnassignTrade(c.Request.Context(), c.Param("model"), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, nil)
}
