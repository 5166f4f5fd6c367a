package worker

// ScanRequest is the message enqueued for the analysis subsystem when a
// matched rule asks for an immediate scan. Fire-and-forget from this side.
type ScanRequest struct {
	Repository    string   `json:"repository"`
	Files         []string `json:"files"`
	CustomRuleIDs []string `json:"customRuleIds,omitempty"`
	Priority      string   `json:"priority"`
}

// Notification is a per-user message published on the notifications topic.
type Notification struct {
	UserID   string `json:"userId"`
	Category string `json:"category"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// EmailRequest is published on the email topic for the mail worker.
type EmailRequest struct {
	UserID  string `json:"userId"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// notificationPriority maps a rule's severity floor onto the notification
// urgency scale.
func notificationPriority(minSeverity string) string {
	switch minSeverity {
	case "critical":
		return "urgent"
	case "high":
		return "high"
	case "medium":
		return "medium"
	default:
		return "low"
	}
}
