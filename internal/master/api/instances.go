package api

import (
	"errors"
	"net/http"

	"algohub/internal/master/launcher"

	"github.com/gin-gonic/gin"
)

func (s *Server) listInstances(c *gin.Context) {
	list := s.launcher.List()
	c.JSON(http.StatusOK, gin.H{"count": len(list), "instances": list})
}

func (s *Server) launchInstance(c *gin.Context) {
	var spec launcher.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	inst, err := s.launcher.Launch(c.Request.Context(), spec)
	switch {
	case errors.Is(err, launcher.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
		return
	case errors.Is(err, launcher.ErrNoFreePort):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) stopInstance(c *gin.Context) {
	err := s.launcher.Stop(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, launcher.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "已停止"})
}
