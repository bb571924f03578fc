package num

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
)

const queueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue() Queue
	// Allocate new n dimensional array
	NewArray(dtype DataType, dims ...int) Array
	NewArrayLike(a Array) Array
	// Create convolution and pooling layer primitives
	ConvLayer(nBatch, h, w, depth, nFeats, size, stride, pad int) Layer
	PoolLayer(nBatch, h, w, depth, size, stride int, average bool) Layer
	// Description of the hardware
	String() string
}

// Initialise new CPU device
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Deferred function call, executed in order when the buffer fills or on Finish
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	Profile() string
}

type cpuDevice struct{}

func (d cpuDevice) String() string {
	c := cpuid.CPU
	return fmt.Sprintf("%s: %d cores %d threads avx2=%v fma3=%v", strings.TrimSpace(c.BrandName),
		c.PhysicalCores, c.LogicalCores, c.Supports(cpuid.AVX2), c.Supports(cpuid.FMA3))
}

type cpuQueue struct {
	cpuDevice
	buffer [queueSize]Function
	queued int
	*profile
}

func (d cpuDevice) NewQueue() Queue {
	return &cpuQueue{cpuDevice: d, profile: newProfile()}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) exec() {
	for _, f := range q.buffer[:q.queued] {
		if q.profile.enabled {
			start := time.Now()
			f.call()
			q.profile.add(f.desc, time.Since(start))
		} else {
			f.call()
		}
	}
	q.queued = 0
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if q.queued >= queueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		fmt.Print(q.Profile())
	}
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += float64(elapsed) / float64(time.Millisecond)
	p.prof[name] = r
}

func (p *profile) Profile() string {
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	var s strings.Builder
	s.WriteString("== Profile ==\n")
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		fmt.Fprintf(&s, "%-25s %8d calls %10.1f msec\n", r.name, r.calls, r.msec)
		totalCalls += r.calls
		totalMsec += r.msec
	}
	fmt.Fprintf(&s, "%-25s %8d calls %10.1f msec\n", "TOTAL", totalCalls, totalMsec)
	return s.String()
}
