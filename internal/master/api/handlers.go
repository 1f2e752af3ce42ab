package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"algohub/internal/master/registry"
	"algohub/internal/master/selector"
	"algohub/internal/pkg/logger"
	"algohub/pkg/model"
	"algohub/pkg/store"

	"github.com/gin-gonic/gin"
)

// maxPayload 单次 HTTP 上报的最大字节数
const maxPayload = 1 << 20

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "algohub monitor",
		"status":  "running",
		"endpoints": []string{
			"POST /resource/webSocketOnMessage",
			"GET /health",
			"GET /api/v1/algorithms",
			"GET /api/v1/algorithms/:name",
			"DELETE /api/v1/algorithms/:name",
			"POST /api/v1/algorithms/:name/terminate",
			"GET /api/v1/select",
			"GET /ws/status",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": logger.NowFormatted(),
	})
}

// receiveStatus HTTP 心跳接收，body 为状态对象数组 (单个对象也接受)
func (s *Server) receiveStatus(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error",
				"message": fmt.Sprintf("请求体超过 %d 字节", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "读取请求体失败"})
		return
	}

	src := registry.Source{Transport: registry.TransportHTTP, Addr: c.ClientIP()}
	n, err := s.registry.RegisterPayload(c.Request.Context(), src, body)
	switch {
	case errors.Is(err, registry.ErrMalformed):
		logger.Warnf("[API] malformed status payload from %s: %v", src.Addr, err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	case err != nil:
		logger.LogError(err, "api", map[string]interface{}{"client_ip": src.Addr})
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "保存状态失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "数据接收成功",
		"count":   n,
	})
}

func (s *Server) listAlgorithms(c *gin.Context) {
	q := registry.Query{
		Category:    c.Query("category"),
		Class:       c.Query("class"),
		Subcategory: c.Query("subcategory"),
	}
	if raw := c.Query("status"); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		q.Status = st
	}
	if raw := c.Query("remote"); raw != "" {
		remote, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": fmt.Sprintf("invalid remote %q", raw)})
			return
		}
		q.Remote = &remote
	}

	records, err := s.registry.List(c.Request.Context(), q)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "algorithms": records})
}

func (s *Server) getAlgorithm(c *gin.Context) {
	rec, err := s.registry.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteAlgorithm(c *gin.Context) {
	if err := s.registry.Delete(c.Request.Context(), c.Param("name")); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "已删除"})
}

func (s *Server) selectAlgorithm(c *gin.Context) {
	var req selector.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	records, err := s.registry.List(c.Request.Context(), registry.Query{})
	if err != nil {
		s.storeError(c, err)
		return
	}
	rec, err := s.selector.Select(records, req, time.Now())
	if errors.Is(err, selector.ErrNoCandidate) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// storeError 存储层错误到 HTTP 状态码
func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
		return
	}
	logger.LogError(err, "api", map[string]interface{}{"path": c.FullPath()})
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
}
