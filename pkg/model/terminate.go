package model

// TerminateRequest 终止请求
// 历史上各模板分别使用 pid / port / process_number / target_ip+process_number，
// 这里统一成一个结构，至少需要一个进程标识
type TerminateRequest struct {
	PID           FlexString `json:"pid,omitempty"`
	Port          FlexString `json:"port,omitempty"`
	ProcessNumber FlexString `json:"process_number,omitempty"`
	Name          string     `json:"name,omitempty"`
	TargetIP      string     `json:"target_ip,omitempty"`
}

// HasIdentifier 是否携带了任意一个进程标识
func (r *TerminateRequest) HasIdentifier() bool {
	return r.PID != "" || r.Port != "" || r.ProcessNumber != "" || r.Name != ""
}

// 终止响应里的 status 取值
const (
	TerminateAccepted = "success"
	TerminateIgnored  = "ignored"
	TerminateRejected = "rejected"
	TerminateError    = "error"
)

// TerminateResponse 终止响应
type TerminateResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	ClientIP string `json:"client_ip,omitempty"`
	PID      int    `json:"pid,omitempty"`
}
