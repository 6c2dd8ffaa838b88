package mqtt

import (
	"encoding/json"
	"time"
)

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = "graylogic"

// StatusTopic is the retained service status topic of a client.
//
// Example: graylogic/system/status/graylogic-ems
func StatusTopic(clientID string) string {
	return TopicPrefix + "/system/status/" + clientID
}

// Status values published on StatusTopic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusPayload is the JSON body published on StatusTopic.
type StatusPayload struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	data, _ := json.Marshal(StatusPayload{ //nolint:errcheck // plain struct always marshals
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return data
}

func onlinePayload(clientID string) []byte {
	return statusPayload(clientID, StatusOnline, "")
}

func offlinePayload(clientID string) []byte {
	return statusPayload(clientID, StatusOffline, "graceful_shutdown")
}

func lwtPayload(clientID string) []byte {
	return statusPayload(clientID, StatusOffline, "unexpected_disconnect")
}
