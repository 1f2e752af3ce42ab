package sidecar

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"algohub/internal/pkg/logger"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// PrimaryIP 本机对外地址: 先用 UDP "连接" 公网地址取出口网卡，再退回主机名解析，最后 127.0.0.1
// UDP 的 Dial 不发送任何数据
func PrimaryIP() string {
	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupIP(host); err == nil {
			for _, ip := range addrs {
				if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
					return v4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// LocalIPs 本机所有网卡地址，用于判断 target_ip 是否指向本机
func LocalIPs() []string {
	seen := map[string]bool{"127.0.0.1": true, "::1": true, "localhost": true}
	if primary := PrimaryIP(); primary != "" {
		seen[primary] = true
	}

	ifaces, err := gnet.Interfaces()
	if err != nil {
		logger.Debugf("[Sidecar] list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			// 形如 192.168.1.10/24
			addr := a.Addr
			if i := strings.IndexByte(addr, '/'); i >= 0 {
				addr = addr[:i]
			}
			if addr != "" {
				seen[addr] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	return out
}

// listen 绑定 sidecar 端口
// 端口被占用时: reclaim 为 true 先结束占用进程再重试，仍失败则顺延 attempts 个端口
func listen(host string, port int, reclaim bool, attempts int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil || port == 0 {
		return ln, err
	}
	logger.Warnf("[Sidecar] 端口 %d 被占用: %v", port, err)

	if reclaim {
		if killPortOwner(port) {
			time.Sleep(500 * time.Millisecond)
			if ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port))); err == nil {
				logger.Infof("[Sidecar] 已释放端口 %d", port)
				return ln, nil
			}
		}
		logger.Warnf("[Sidecar] 无法释放端口 %d，尝试查找其他可用端口", port)
	}

	for p := port + 1; p <= port+attempts && p <= 65535; p++ {
		if ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p))); err == nil {
			logger.Infof("[Sidecar] 使用备用端口 %d", p)
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no free port in %d-%d", port, port+attempts)
}

// killPortOwner 结束监听该端口的其他进程
func killPortOwner(port int) bool {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		logger.Warnf("[Sidecar] list connections: %v", err)
		return false
	}
	self := int32(os.Getpid())
	killed := false
	for _, c := range conns {
		if c.Laddr.Port != uint32(port) || c.Status != "LISTEN" || c.Pid == 0 || c.Pid == self {
			continue
		}
		p, err := process.NewProcess(c.Pid)
		if err != nil {
			continue
		}
		name, _ := p.Name()
		logger.Warnf("[Sidecar] 强制关闭占用端口 %d 的进程: PID=%d, Name=%s", port, c.Pid, name)
		if err := p.Kill(); err == nil {
			killed = true
		}
	}
	return killed
}

// terminateProcess 向进程发送 SIGTERM
func terminateProcess(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Terminate()
}
