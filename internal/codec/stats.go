package codec

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of a codec's running statistics.
type Stats struct {
	Encoded        uint64
	Decoded        uint64
	EncodeFailures uint64
	DecodeFailures uint64
	AvgEncodeTime  time.Duration
	AvgDecodeTime  time.Duration
	// AvgMessageSize is the mean payload size in bytes over successfully
	// encoded and decoded messages.
	AvgMessageSize float64
}

// CodecMetrics accumulates statistics for one codec instance.
type CodecMetrics struct {
	mutex sync.Mutex

	encoded        uint64
	decoded        uint64
	encodeFailures uint64
	decodeFailures uint64
	encodeTime     time.Duration
	decodeTime     time.Duration
	totalBytes     uint64
}

func (metrics *CodecMetrics) observeEncode(elapsed time.Duration, size int, err error) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	if err != nil {
		metrics.encodeFailures++
		return
	}
	metrics.encoded++
	metrics.encodeTime += elapsed
	metrics.totalBytes += uint64(size)
}

func (metrics *CodecMetrics) observeDecode(elapsed time.Duration, size int, err error) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	if err != nil {
		metrics.decodeFailures++
		return
	}
	metrics.decoded++
	metrics.decodeTime += elapsed
	metrics.totalBytes += uint64(size)
}

// Snapshot returns the current statistics.
func (metrics *CodecMetrics) Snapshot() Stats {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()

	stats := Stats{
		Encoded:        metrics.encoded,
		Decoded:        metrics.decoded,
		EncodeFailures: metrics.encodeFailures,
		DecodeFailures: metrics.decodeFailures,
	}
	if metrics.encoded > 0 {
		stats.AvgEncodeTime = metrics.encodeTime / time.Duration(metrics.encoded)
	}
	if metrics.decoded > 0 {
		stats.AvgDecodeTime = metrics.decodeTime / time.Duration(metrics.decoded)
	}
	if messages := metrics.encoded + metrics.decoded; messages > 0 {
		stats.AvgMessageSize = float64(metrics.totalBytes) / float64(messages)
	}
	return stats
}

// Reset clears every counter.
func (metrics *CodecMetrics) Reset() {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.encoded = 0
	metrics.decoded = 0
	metrics.encodeFailures = 0
	metrics.decodeFailures = 0
	metrics.encodeTime = 0
	metrics.decodeTime = 0
	metrics.totalBytes = 0
}
