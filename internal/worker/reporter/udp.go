package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"algohub/pkg/model"
)

// UDPReporter 每条状态一个数据报 (顶层对象)
type UDPReporter struct {
	conn net.Conn
}

func NewUDP(addr string) (*UDPReporter, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return &UDPReporter{conn: conn}, nil
}

func (r *UDPReporter) Send(ctx context.Context, msg *model.StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
	}
	_, err = r.conn.Write(data)
	return err
}

func (r *UDPReporter) Close() error {
	return r.conn.Close()
}
