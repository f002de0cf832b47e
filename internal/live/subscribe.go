package live

import "encoding/json"

// SubscribeMessage is what a sockjs client sends to pick a service.
type SubscribeMessage struct {
	Action    string `json:"action"`
	ServiceID int64  `json:"serviceId"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
