// Package notify defines the outbound push-notification contract.  Delivery
// mechanics (device tokens, FCM, mail) belong to an external service; the
// session core only decides who should hear about what.
package notify

import (
	"context"
	"log"
)

// Message is one notification fanned out to a set of members.
type Message struct {
	To    []int64
	Title string
	Body  string
}

// Notifier delivers messages to members.  Implementations must tolerate
// empty recipient lists.
type Notifier interface {
	Push(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the process log.  It stands in until
// a real delivery backend is wired up and keeps tests quiet about transport
// concerns.
type LogNotifier struct{}

// Push logs the message.
func (LogNotifier) Push(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	log.Printf("notify: to=%v title=%q body=%q", msg.To, msg.Title, msg.Body)
	return nil
}
