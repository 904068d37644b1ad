// Package backend provides the HTTP client and wire types for the MediBot
// analysis service: chat, summary, video submission and video status.
package backend

// ChatRequest is the body of POST /api/chat-voice.
type ChatRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

// ChatReply is the assistant reply to a chat message.
type ChatReply struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// SummaryRequest is the body of POST /api/summary.
type SummaryRequest struct {
	Text string `json:"text"`
}

// SummaryResponse carries the generated patient summary.
type SummaryResponse struct {
	Text string `json:"text"`
}

// VideoRequest is the body of POST /api/video.
type VideoRequest struct {
	Summary string `json:"summary"`
}

// VideoSubmitResponse is returned by POST /api/video.
type VideoSubmitResponse struct {
	VideoID string `json:"videoId"`
	Error   string `json:"error,omitempty"`
}

// Video status values reported by GET /api/video-status/{id}.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// VideoStatus is returned by GET /api/video-status/{id}.
type VideoStatus struct {
	Status    string `json:"status"`
	HostedURL string `json:"hosted_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Ready reports whether the status is the terminal success condition:
// status "ready" together with a hosted URL.
func (s VideoStatus) Ready() bool {
	return s.Status == StatusReady && s.HostedURL != ""
}

// Failed reports whether the service declared the job failed.
func (s VideoStatus) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusError
}

// errorBody is the shape of error payloads on non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
