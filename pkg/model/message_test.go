package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"idle", StatusIdle, false},
		{"空闲", StatusIdle, false},
		{"free", StatusIdle, false},
		{"调用中", StatusBusy, false},
		{"BUSY", StatusBusy, false},
		{"离线", StatusOffline, false},
		{" offline ", StatusOffline, false},
		{"未知", "", true},
		{"sleeping", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStatusMessages_ObjectAndArray(t *testing.T) {
	msgs, err := DecodeStatusMessages([]byte(`{"name":"EKF","network_info":{"status":"空闲"}}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "EKF", msgs[0].Name)
	assert.Equal(t, StatusIdle, msgs[0].NetworkInfo.Status)

	msgs, err = DecodeStatusMessages([]byte(`[{"name":"a"},{"name":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = DecodeStatusMessages([]byte(`[]`))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodeStatusMessages([]byte(`   `))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestDecodeStatusMessages_RejectsBadFields(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"name":`,
		"iso timestamp":     `{"name":"x","network_info":{"last_update_timestamp":"2024-10-21T08:00:00"}}`,
		"float timestamp":   `{"name":"x","network_info":{"last_update_timestamp":1729468000.25}}`,
		"unknown status":    `{"name":"x","network_info":{"status":"未知"}}`,
		"bad percent":       `{"name":"x","network_info":{"cpu_usage":"abc"}}`,
		"port out of range": `{"name":"x","network_info":{"port":70000}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStatusMessages([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeStatusMessages_LegacyUsageFormats(t *testing.T) {
	payload := `{
		"name": "Qwen2.5llm",
		"className": "aabb",
		"ip": "192.168.1.100",
		"port": "12345",
		"inputs": [{"name":"promt","symbol":"prompt","type":"str","dimension":1}],
		"network_info": {
			"status": "free",
			"cpu_usage": "42.70%",
			"memory_usage": 65.2,
			"gpu_usage": [{"index":0,"name":"NVIDIA RTX 3080","usage":72.1,"memory_used_mb":4200,"memory_total_mb":10000}],
			"last_update_timestamp": 1729468000000
		}
	}`
	msgs, err := DecodeStatusMessages([]byte(payload))
	require.NoError(t, err)
	m := msgs[0]
	require.NoError(t, m.Validate())

	assert.Equal(t, Percent(42.7), m.NetworkInfo.CPUUsage)
	assert.Equal(t, Percent(65.2), m.NetworkInfo.MemoryUsage)
	require.Len(t, m.NetworkInfo.GPUUsage, 1)
	assert.Equal(t, Percent(72.1), m.NetworkInfo.GPUUsage[0].Usage)
	assert.Equal(t, FlexString("1"), m.Inputs[0].Dimension)
	require.NotNil(t, m.Port)
	assert.Equal(t, Port(12345), *m.Port)

	// gpu_usage 也可能只是一个百分比字符串
	msgs, err = DecodeStatusMessages([]byte(`{"name":"x","network_info":{"gpu_usage":"15.20%"}}`))
	require.NoError(t, err)
	require.Len(t, msgs[0].NetworkInfo.GPUUsage, 1)
	assert.InDelta(t, 15.2, msgs[0].NetworkInfo.GPUUsage.Mean(), 1e-9)
}

func TestDecodeStatusMessages_RejectsNonFinitePercent(t *testing.T) {
	for _, v := range []string{`"NaN"`, `"nan%"`, `"Inf"`, `"-Infinity"`, `"+inf%"`} {
		_, err := DecodeStatusMessages([]byte(`{"name":"EKF","network_info":{"cpu_usage":` + v + `}}`))
		assert.Error(t, err, v)

		_, err = DecodeStatusMessages([]byte(`{"name":"EKF","network_info":{"gpu_usage":[{"usage":` + v + `}]}}`))
		assert.Error(t, err, v)
	}
}

func TestValidate(t *testing.T) {
	m := StatusMessage{Name: "  "}
	assert.True(t, errors.Is(m.Validate(), ErrMissingName))

	m = StatusMessage{Name: " EKF "}
	require.NoError(t, m.Validate())
	assert.Equal(t, "EKF", m.Name)
}

func TestMerge_FirstRegistrationDefaults(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	rec := Merge(nil, &StatusMessage{Name: "EKF"}, now)

	assert.Equal(t, "EKF", rec.Name)
	assert.Equal(t, DefaultCategory, rec.Category)
	assert.Equal(t, DefaultClass, rec.Class)
	assert.Equal(t, DefaultSubcategory, rec.Subcategory)
	assert.Equal(t, DefaultVersion, rec.Version)
	assert.Equal(t, DefaultCreator, rec.Creator)
	assert.Equal(t, StatusIdle, rec.NetworkInfo.Status)
	assert.True(t, rec.NetworkInfo.IsRemote)
	assert.Equal(t, now.UnixMilli(), rec.NetworkInfo.LastUpdate)
}

func TestMerge_UpdateOverwritesNetworkInfoWholesale(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	remote := false
	port := Port(9090)
	sidecarPort := Port(8091)
	first := Merge(nil, &StatusMessage{
		Name:        "EKF",
		Category:    "内置服务",
		Description: "扩展卡尔曼滤波",
		NetworkInfo: &MessageNetworkInfo{
			IP:          "10.0.0.5",
			Port:        &port,
			Status:      StatusBusy,
			IsRemote:    &remote,
			CPUUsage:    30,
			SidecarPort: &sidecarPort,
		},
	}, t0)
	assert.Equal(t, Port(8091), first.NetworkInfo.SidecarPort)

	t1 := t0.Add(2 * time.Second)
	second := Merge(first, &StatusMessage{
		Name:        "EKF",
		ClassName:   "滤波类",
		NetworkInfo: &MessageNetworkInfo{Status: StatusIdle},
	}, t1)

	// 标识字段: 出现的覆盖，缺省的保持
	assert.Equal(t, "内置服务", second.Category)
	assert.Equal(t, "扩展卡尔曼滤波", second.Description)
	assert.Equal(t, "滤波类", second.Class)

	// network_info 整体覆盖
	assert.Equal(t, StatusIdle, second.NetworkInfo.Status)
	assert.Equal(t, "", second.NetworkInfo.IP)
	assert.Equal(t, Port(0), second.NetworkInfo.Port)
	assert.Equal(t, Port(0), second.NetworkInfo.SidecarPort)
	assert.True(t, second.NetworkInfo.IsRemote)
	assert.Equal(t, Percent(0), second.NetworkInfo.CPUUsage)
	assert.Equal(t, t1.UnixMilli(), second.NetworkInfo.LastUpdate)

	// 原记录不被修改
	assert.Equal(t, StatusBusy, first.NetworkInfo.Status)
}

func TestMerge_LegacyTopLevelFieldsAndMonotonicTimestamp(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_010_000)
	port := Port(8080)
	cur := Merge(nil, &StatusMessage{Name: "x"}, t0)

	next := Merge(cur, &StatusMessage{Name: "x", IP: "192.168.1.100", Port: &port}, t0.Add(-5*time.Second))
	assert.Equal(t, "192.168.1.100", next.NetworkInfo.IP)
	assert.Equal(t, Port(8080), next.NetworkInfo.Port)
	assert.Equal(t, t0.UnixMilli(), next.NetworkInfo.LastUpdate, "timestamp must not move backwards")
}

func TestRecordIsStale(t *testing.T) {
	now := time.UnixMilli(1_700_000_100_000)
	rec := &AlgorithmRecord{NetworkInfo: NetworkInfo{LastUpdate: now.Add(-9 * time.Second).UnixMilli()}}
	assert.True(t, rec.IsStale(now, 8*time.Second))
	assert.False(t, rec.IsStale(now, 10*time.Second))
}

func TestRecordClone(t *testing.T) {
	rec := &AlgorithmRecord{
		Name:   "x",
		Inputs: []Param{{Name: "a"}},
		NetworkInfo: NetworkInfo{
			GPUUsage: GPUList{{Usage: 1}},
		},
	}
	c := rec.Clone()
	c.Inputs[0].Name = "b"
	c.NetworkInfo.GPUUsage[0].Usage = 2
	assert.Equal(t, "a", rec.Inputs[0].Name)
	assert.Equal(t, Percent(1), rec.NetworkInfo.GPUUsage[0].Usage)
}
