package utils

import "github.com/google/uuid"

// GenerateRequestID returns an id for correlating one HTTP request in logs.
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateSubscriberID returns an id for one websocket subscriber.
func GenerateSubscriberID() string {
	return "sub_" + uuid.NewString()
}
