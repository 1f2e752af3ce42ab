package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"algohub/internal/master/registry"
	"algohub/internal/pkg/logger"
)

// MaxDatagram 单个 UDP 报文的最大长度
const MaxDatagram = 64 * 1024

// PayloadHandler 处理一条上报报文 (registry.Registry 实现了它)
type PayloadHandler interface {
	RegisterPayload(ctx context.Context, src registry.Source, data []byte) (int, error)
}

// UDPListener UDP 心跳监听
// 报文串行处理；读超时只用来定期检查 ctx 是否结束
type UDPListener struct {
	conn        *net.UDPConn
	handler     PayloadHandler
	readTimeout time.Duration
}

// ListenUDP 绑定地址，端口 0 表示随机端口
func ListenUDP(addr string, readTimeout time.Duration, h PayloadHandler) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	return &UDPListener{conn: conn, handler: h, readTimeout: readTimeout}, nil
}

// Addr 实际绑定的地址
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve 接收循环，ctx 结束或连接关闭时返回
func (l *UDPListener) Serve(ctx context.Context) error {
	defer l.conn.Close()
	logger.LogSystemEvent("ingest", "startup", "udp listener started", logger.InfoLevel,
		map[string]interface{}{"addr": l.Addr().String()})

	buf := make([]byte, MaxDatagram)
	for {
		if ctx.Err() != nil {
			logger.LogSystemEvent("ingest", "shutdown", "udp listener stopped", logger.InfoLevel, nil)
			return nil
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("[Ingest] udp read error: %v", err)
			continue
		}

		l.handle(ctx, buf[:n], from)
	}
}

func (l *UDPListener) handle(ctx context.Context, data []byte, from *net.UDPAddr) {
	src := registry.Source{Transport: registry.TransportUDP, Addr: from.String()}
	if _, err := l.handler.RegisterPayload(ctx, src, data); err != nil {
		if errors.Is(err, registry.ErrMalformed) {
			logger.Warnf("[Ingest] dropped malformed datagram from %s: %v", src.Addr, err)
			return
		}
		logger.Errorf("[Ingest] failed to register datagram from %s: %v", src.Addr, err)
	}
}

// Close 关闭连接，Serve 随之返回
func (l *UDPListener) Close() error {
	return l.conn.Close()
}
