package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	errorsTransport int64
	errorsPoll      int64
	warnsTransport  int64
	warnsPoll       int64
	framesReceived  int64
	statusPolls     int64
	tickPolls       int64
	exchangeCalls   int64
	streams         sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "transport") {
		atomic.AddInt64(&warnsTransport, 1)
	} else if strings.Contains(component, "market") || strings.Contains(component, "status") {
		atomic.AddInt64(&warnsPoll, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "transport") {
		atomic.AddInt64(&errorsTransport, 1)
	} else if strings.Contains(component, "market") || strings.Contains(component, "status") {
		atomic.AddInt64(&errorsPoll, 1)
	}
}

// IncrementFrameReceived records one inbound engine frame of the given size.
func IncrementFrameReceived(size int) {
	atomic.AddInt64(&framesReceived, 1)
	recordStream("engine_frames", size)
}

// IncrementStatusPoll records one completed status poll.
func IncrementStatusPoll(size int) {
	atomic.AddInt64(&statusPolls, 1)
	recordStream("status_polls", size)
}

// IncrementTickPoll records one completed price poll.
func IncrementTickPoll(size int) {
	atomic.AddInt64(&tickPolls, 1)
	recordStream("tick_polls", size)
}

// IncrementExchangeCall records one OAuth token-exchange attempt.
func IncrementExchangeCall() {
	atomic.AddInt64(&exchangeCalls, 1)
	recordStream("oauth_exchanges", 0)
}

// RecordStreamMessage records arbitrary stream traffic for the report loop.
func RecordStreamMessage(name string, size int) {
	recordStream(name, size)
}

func recordStream(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	cs := v.(*streamStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport periodically logs a runtime report and publishes the same data
// to CloudWatch when the client is configured. The loop stops with the
// context.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport(ctx, log)
			}
		}
	}()
}

func emitReport(ctx context.Context, log *Log) {
	streamData := make(map[string]map[string]int64)
	streams.Range(func(key, value any) bool {
		name := key.(string)
		cs := value.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPercent, _ := cpu.PercentWithContext(ctx, 0, false)
	memStats, memErr := mem.VirtualMemoryWithContext(ctx)
	diskStats, diskErr := disk.UsageWithContext(ctx, "/")
	netStats, _ := gnet.IOCountersWithContext(ctx, false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memUsed := uint64(0)
	if memErr == nil && memStats != nil {
		memUsed = memStats.Used
	}
	diskUsed := uint64(0)
	if diskErr == nil && diskStats != nil {
		diskUsed = diskStats.Used
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_transport": atomic.LoadInt64(&errorsTransport),
		"errors_poll":      atomic.LoadInt64(&errorsPoll),
		"warns_transport":  atomic.LoadInt64(&warnsTransport),
		"warns_poll":       atomic.LoadInt64(&warnsPoll),
		"frames_received":  atomic.LoadInt64(&framesReceived),
		"status_polls":     atomic.LoadInt64(&statusPolls),
		"tick_polls":       atomic.LoadInt64(&tickPolls),
		"exchange_calls":   atomic.LoadInt64(&exchangeCalls),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memUsed) / 1024 / 1024,
		"disk_mb":          int64(diskUsed) / 1024 / 1024,
		"streams":          streamData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Sync-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-ErrorsTransport"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsTransport)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-ErrorsPoll"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsPoll)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-WarnsTransport"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsTransport)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-WarnsPoll"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsPoll)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-FramesReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&framesReceived)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-StatusPolls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&statusPolls)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-TickPolls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tickPolls)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-ExchangeCalls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&exchangeCalls)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Sync-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range streamData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Sync-StreamMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Sync-StreamBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
