package relay

import (
	"fmt"
	"strings"
)

// unsetMarker is the placeholder some deployments leave in the family id
// variables; it must never match a real user id.
const unsetMarker = "未設定"

// Classifier turns a raw upstream message into the sentence the robot will
// speak. Sender identity comes from the configured family ids; message
// routing is a fixed, ordered set of substring rules where the first match
// wins.
type Classifier struct {
	mamaID string
	papaID string
}

func NewClassifier(mamaID, papaID string) *Classifier {
	return &Classifier{mamaID: mamaID, papaID: papaID}
}

// Sender resolves an upstream user id to a spoken family label.
func (c *Classifier) Sender(userID string) string {
	switch {
	case c.mamaID != "" && c.mamaID != unsetMarker && userID == c.mamaID:
		return "お母さん"
	case c.papaID != "" && c.papaID != unsetMarker && userID == c.papaID:
		return "お父さん"
	default:
		return "家族"
	}
}

// Classify maps a message to its announcement. Returns the sender label and
// the templated spoken sentence.
func (c *Classifier) Classify(userID, message string) (sender, spoken string) {
	sender = c.Sender(userID)

	switch {
	case strings.Contains(message, "帰る") || strings.Contains(message, "帰ります"):
		spoken = fmt.Sprintf("%sがそろそろ帰ってくるってー！", sender)
	case strings.Contains(message, "遅い") || strings.Contains(message, "遅く"):
		spoken = fmt.Sprintf("%s、今夜はちょっと遅いって言ってるよ〜", sender)
	case strings.Contains(message, "よろしく"):
		spoken = fmt.Sprintf("%sからよろしくって言ってるよ〜", sender)
	case strings.Contains(message, "買"):
		spoken = fmt.Sprintf("%sが買ってきてほしいものある？って聞いてるよ〜", sender)
	default:
		spoken = fmt.Sprintf("%sからメッセージだぜ。「%s」だってさ！", sender, message)
	}
	return sender, spoken
}
