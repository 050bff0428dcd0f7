package training

import "strings"

// DefaultSentinelKey is the correlation key used when the caller's
// identity cannot be resolved.
const DefaultSentinelKey = "xyz"

// TrainingRequest is one submission of the admin training form.
type TrainingRequest struct {
	VideoURL       string
	Instagram      string
	CorrelationKey string
}

// Validate trims the request in place and rejects an empty video URL.
func (r *TrainingRequest) Validate() error {
	r.VideoURL = strings.TrimSpace(r.VideoURL)
	r.Instagram = strings.TrimSpace(r.Instagram)
	if r.VideoURL == "" {
		return &ValidationError{Field: "videoUrl", Message: "Video URL is required."}
	}
	if strings.TrimSpace(r.CorrelationKey) == "" {
		r.CorrelationKey = DefaultSentinelKey
	}
	return nil
}

// TriggerPayload is the JSON body of every webhook call in a run.
type TriggerPayload struct {
	VideoURL  string `json:"videourl"`
	Instagram string `json:"instagram"`
	Key       string `json:"key"`
}

// Payload builds the trigger payload for the request.
func (r TrainingRequest) Payload() TriggerPayload {
	return TriggerPayload{
		VideoURL:  r.VideoURL,
		Instagram: r.Instagram,
		Key:       r.CorrelationKey,
	}
}

// ResolveCorrelationKey returns the identity-derived key, or fallback when
// resolution failed or produced nothing.
func ResolveCorrelationKey(resolve func() (string, error), fallback string) string {
	if fallback == "" {
		fallback = DefaultSentinelKey
	}
	if resolve == nil {
		return fallback
	}
	id, err := resolve()
	if err != nil || strings.TrimSpace(id) == "" {
		return fallback
	}
	return id
}
