package selector

import (
	"math"

	"algohub/pkg/model"
)

// best 给候选实例打分并返回最高分，同分时按名称排序取第一个
func (s *Selector) best(candidates []*model.AlgorithmRecord) *model.AlgorithmRecord {
	var bestRec *model.AlgorithmRecord
	maxScore := -1.0

	for _, rec := range candidates {
		score := Score(rec)
		if bestRec == nil || score > maxScore || (score == maxScore && rec.Name < bestRec.Name) {
			maxScore = score
			bestRec = rec
		}
	}
	return bestRec
}

// Score 计算单个实例的得分 (0-300)
// 策略：Least-loaded -> 剩余资源越多，得分越高
// cpu、内存、gpu 平均使用率各占 100 分
func Score(rec *model.AlgorithmRecord) float64 {
	ni := rec.NetworkInfo
	return free(float64(ni.CPUUsage)) + free(float64(ni.MemoryUsage)) + free(ni.GPUUsage.Mean())
}

func free(used float64) float64 {
	switch {
	case math.IsNaN(used):
		return 0
	case used < 0:
		return 100
	case used > 100:
		return 0
	}
	return 100 - used
}
