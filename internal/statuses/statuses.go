package statuses

// Статусы анализа партии. Переходы описаны в usecase/scheduler.
const (
	StatusIdle      = "idle"
	StatusPending   = "pending"
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusIgnored   = "ignored"
)
