package metrics

// Status label values shared by all operation metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Direction label values.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

const namespace = "strata"

func statusOf(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// DefaultLatencyBuckets cover local fsyncs through slow checkpoints.
var DefaultLatencyBuckets = []float64{
	0.0005, // 500us
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
	30.0,   // 30s
}
