package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"algohub/internal/pkg/logger"
	"algohub/pkg/model"

	"github.com/gin-gonic/gin"
)

// terminateAlgorithm 把终止请求转发给记录所在主机的 sidecar，原样返回其响应
func (s *Server) terminateAlgorithm(c *gin.Context) {
	name := c.Param("name")
	rec, err := s.registry.Get(c.Request.Context(), name)
	if err != nil {
		s.storeError(c, err)
		return
	}
	ip := rec.NetworkInfo.IP
	if ip == "" {
		c.JSON(http.StatusConflict, gin.H{"status": model.TerminateError, "message": "算法没有上报 IP，无法定位 sidecar"})
		return
	}

	// sidecar 可能顺延到了别的端口，以心跳里上报的为准
	port := s.sidecarPort
	if p := int(rec.NetworkInfo.SidecarPort); p > 0 {
		port = p
	}

	body, _ := json.Marshal(model.TerminateRequest{Name: name, TargetIP: ip})
	url := fmt.Sprintf("http://%s/terminate", net.JoinHostPort(ip, strconv.Itoa(port)))

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": model.TerminateError, "message": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordTerminate(model.TerminateError)
		logger.LogBusinessOperation("terminate", name, c.ClientIP(), "failed",
			fmt.Sprintf("转发终止请求失败: %v", err), map[string]interface{}{"sidecar": url})
		c.JSON(http.StatusBadGateway, gin.H{"status": model.TerminateError, "message": err.Error()})
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": model.TerminateError, "message": err.Error()})
		return
	}

	var tr model.TerminateResponse
	result := model.TerminateError
	if json.Unmarshal(raw, &tr) == nil && tr.Status != "" {
		result = tr.Status
	}
	s.metrics.RecordTerminate(result)

	outcome := "failed"
	if result == model.TerminateAccepted {
		outcome = "success"
	}
	logger.LogBusinessOperation("terminate", name, c.ClientIP(), outcome,
		fmt.Sprintf("终止算法 %s: %s", name, result), map[string]interface{}{"sidecar": url, "code": resp.StatusCode})

	c.Data(resp.StatusCode, "application/json; charset=utf-8", raw)
}
