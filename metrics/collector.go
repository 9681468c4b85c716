package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

type MetricsCollector struct {
	MessagesByKind      map[string]uint64 `json:"messages_by_kind"`
	ErrorsByInterceptor map[string]uint64 `json:"errors_by_interceptor"`
	BridgeConnections   map[string]uint64 `json:"bridge_connections"`
	ActiveBridges       map[string]uint64 `json:"active_bridges"`
	MessagesRouted      uint64            `json:"messages_routed"`
	MessagesDropped     uint64            `json:"messages_dropped"`
	BytesSent           uint64            `json:"bytes_sent"`
	BytesReceived       uint64            `json:"bytes_received"`
	InterceptErrors     uint64            `json:"intercept_errors"`
	TotalAgents         uint64            `json:"total_agents"`
	ActiveAgents        uint64            `json:"active_agents"`
	CurrentMPS          float64           `json:"current_mps"`
	Goroutines          int               `json:"goroutines"`

	MessageRate       []TimeSeriesPoint `json:"message_rate"`
	StartTime         time.Time         `json:"start_time"`
	Uptime            string            `json:"uptime"`
	MemoryUsage       MemoryStats       `json:"memory_usage"`
	RecentConnections []ConnectionLog   `json:"recent_connections"`
	RecentEvents      []SystemEvent     `json:"recent_events"`

	lastUpdate       time.Time    `json:"-"`
	mu               sync.RWMutex `json:"-"`
	lastMessageCount uint64       `json:"-"`
}

type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type MemoryStats struct {
	Allocated      uint64  `json:"allocated"`
	TotalAllocated uint64  `json:"total_allocated"`
	System         uint64  `json:"system"`
	Percent        float64 `json:"percent"`
	HeapAlloc      uint64  `json:"heap_alloc"`
	HeapInuse      uint64  `json:"heap_inuse"`
	NumGC          uint32  `json:"num_gc"`
}

// ConnectionLog is one bridge connection as it was opened.
type ConnectionLog struct {
	Timestamp time.Time `json:"timestamp"`
	Bridge    string    `json:"bridge"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
}

type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

var (
	metricsCollector *MetricsCollector
	metricsOnce      sync.Once
)

func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		metricsCollector = &MetricsCollector{
			StartTime:           time.Now(),
			MessagesByKind:      make(map[string]uint64),
			ErrorsByInterceptor: make(map[string]uint64),
			BridgeConnections:   make(map[string]uint64),
			ActiveBridges:       make(map[string]uint64),
			MessageRate:         make([]TimeSeriesPoint, 0, 60),
			RecentConnections:   make([]ConnectionLog, 0, 10),
			RecentEvents:        make([]SystemEvent, 0, 20),
			lastUpdate:          time.Now(),
		}

		go metricsCollector.updateLoop()
	})
	return metricsCollector
}

func (m *MetricsCollector) updateLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.updateRates()
		m.updateSystemStats()
	}
}

func (m *MetricsCollector) updateRates() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	duration := now.Sub(m.lastUpdate).Seconds()
	if duration <= 0 {
		return
	}

	m.CurrentMPS = float64(m.MessagesRouted-m.lastMessageCount) / duration

	m.MessageRate = append(m.MessageRate, TimeSeriesPoint{
		Timestamp: now.UnixMilli(),
		Value:     m.CurrentMPS,
	})
	if len(m.MessageRate) > 60 {
		m.MessageRate = m.MessageRate[len(m.MessageRate)-60:]
	}

	m.lastUpdate = now
	m.lastMessageCount = m.MessagesRouted
	m.Uptime = formatDuration(now.Sub(m.StartTime))
}

func (m *MetricsCollector) updateSystemStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.MemoryUsage = MemoryStats{
		Allocated:      memStats.Alloc,
		TotalAllocated: memStats.TotalAlloc,
		System:         memStats.Sys,
		NumGC:          memStats.NumGC,
		HeapAlloc:      memStats.HeapAlloc,
		HeapInuse:      memStats.HeapInuse,
		Percent:        float64(memStats.Alloc) / float64(memStats.Sys) * 100,
	}
	m.Goroutines = runtime.NumGoroutine()
}

// RecordMessage counts a routed message; kind is send, recv or close.
func (m *MetricsCollector) RecordMessage(kind string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MessagesRouted++
	m.MessagesByKind[kind]++
	switch kind {
	case "send":
		m.BytesSent += uint64(size)
	case "recv":
		m.BytesReceived += uint64(size)
	}
}

// RecordDropped counts events that were not interceptable messages.
func (m *MetricsCollector) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesDropped++
}

func (m *MetricsCollector) RecordInterceptError(interceptor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InterceptErrors++
	m.ErrorsByInterceptor[interceptor]++
}

func (m *MetricsCollector) RecordBridgeOpen(bridge, id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BridgeConnections[bridge]++
	m.ActiveBridges[bridge]++

	conn := ConnectionLog{
		Timestamp: time.Now(),
		Bridge:    bridge,
		ID:        id,
		Name:      name,
	}
	m.RecentConnections = append([]ConnectionLog{conn}, m.RecentConnections...)
	if len(m.RecentConnections) > 10 {
		m.RecentConnections = m.RecentConnections[:10]
	}
}

func (m *MetricsCollector) RecordBridgeClose(bridge string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActiveBridges[bridge] > 0 {
		m.ActiveBridges[bridge]--
	}
}

func (m *MetricsCollector) RecordAgentConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalAgents++
	m.ActiveAgents++
}

func (m *MetricsCollector) RecordAgentDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActiveAgents > 0 {
		m.ActiveAgents--
	}
}

func (m *MetricsCollector) RecordEvent(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event := SystemEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	m.RecentEvents = append([]SystemEvent{event}, m.RecentEvents...)
	if len(m.RecentEvents) > 20 {
		m.RecentEvents = m.RecentEvents[:20]
	}
}

func (m *MetricsCollector) GetSnapshot() *MetricsCollector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &MetricsCollector{
		MessagesRouted:  m.MessagesRouted,
		MessagesDropped: m.MessagesDropped,
		BytesSent:       m.BytesSent,
		BytesReceived:   m.BytesReceived,
		InterceptErrors: m.InterceptErrors,
		TotalAgents:     m.TotalAgents,
		ActiveAgents:    m.ActiveAgents,
		CurrentMPS:      m.CurrentMPS,
		Goroutines:      m.Goroutines,
		StartTime:       m.StartTime,
		Uptime:          m.Uptime,
		MemoryUsage:     m.MemoryUsage,
	}

	snapshot.MessagesByKind = copyCounts(m.MessagesByKind)
	snapshot.ErrorsByInterceptor = copyCounts(m.ErrorsByInterceptor)
	snapshot.BridgeConnections = copyCounts(m.BridgeConnections)
	snapshot.ActiveBridges = copyCounts(m.ActiveBridges)

	snapshot.RecentConnections = make([]ConnectionLog, len(m.RecentConnections))
	copy(snapshot.RecentConnections, m.RecentConnections)

	snapshot.RecentEvents = make([]SystemEvent, len(m.RecentEvents))
	copy(snapshot.RecentEvents, m.RecentEvents)

	snapshot.MessageRate = smoothTimeSeriesData(m.MessageRate, 3)
	return snapshot
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func smoothTimeSeriesData(data []TimeSeriesPoint, windowSize int) []TimeSeriesPoint {
	if len(data) <= windowSize {
		out := make([]TimeSeriesPoint, len(data))
		copy(out, data)
		return out
	}

	smoothed := make([]TimeSeriesPoint, len(data))

	for i := range data {
		sum := 0.0
		count := 0

		for j := max(0, i-windowSize/2); j <= min(len(data)-1, i+windowSize/2); j++ {
			sum += data[j].Value
			count++
		}

		smoothed[i] = TimeSeriesPoint{
			Timestamp: data[i].Timestamp,
			Value:     sum / float64(count),
		}
	}

	return smoothed
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
