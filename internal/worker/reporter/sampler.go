package reporter

import (
	"os"

	"algohub/internal/pkg/logger"
	"algohub/pkg/model"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage 一次资源采样
type Usage struct {
	CPU    model.Percent
	Memory model.Percent
	GPU    model.GPUList
}

// Sampler 采集当前进程的 cpu / 内存使用率
// 没有 NVML 绑定，gpu 始终为空列表
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	// 第一次调用建立基准
	_, _ = p.Percent(0)
	return &Sampler{proc: p}, nil
}

// Sample 失败的字段记 0，不中断上报
func (s *Sampler) Sample() Usage {
	u := Usage{GPU: model.GPUList{}}
	if s == nil || s.proc == nil {
		return u
	}

	cpu, err := s.proc.Percent(0)
	if err != nil {
		logger.LogSystemEvent("Sampler", "Sample", "Failed to get CPU usage: "+err.Error(), logger.WarnLevel, nil)
	} else {
		u.CPU = model.Percent(cpu)
	}

	mem, err := s.proc.MemoryPercent()
	if err != nil {
		logger.LogSystemEvent("Sampler", "Sample", "Failed to get Memory usage: "+err.Error(), logger.WarnLevel, nil)
	} else {
		u.Memory = model.Percent(mem)
	}
	return u
}
