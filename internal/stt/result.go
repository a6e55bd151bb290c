package stt

// Alternative is one candidate transcript of a recognition result
type Alternative struct {
	Transcript string
	Confidence float64
}

// RecognitionResult is a typed result returned by providers that decode their own responses
type RecognitionResult struct {
	ChannelTag   int
	LanguageCode string
	Alternatives []Alternative
}

// OperationMetadata is the progress information of a long-running job
type OperationMetadata struct {
	ProgressPercent int    `json:"progressPercent"`
	StartTime       string `json:"startTime"`
	LastUpdateTime  string `json:"lastUpdateTime"`
}

// OperationError is the error status reported by a failed job
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *OperationError) Error() string {
	return e.Message
}

// Operation is a snapshot of a long-running job.
// A finished job carries either Error or results, in exactly one of the two shapes.
type Operation struct {
	Name     string
	Metadata OperationMetadata
	Done     bool
	Error    *OperationError

	// TypedResults is set by providers that decode results into RecognitionResult values
	TypedResults []RecognitionResult

	// RawResults is the response results array as decoded from JSON, keys untouched
	RawResults []map[string]any
}
