package internal

import "expvar"

var (
	requestsTotal     = expvar.NewMap("scanhooks_requests_total")
	signatureFailures = expvar.NewMap("scanhooks_signature_failures_total")
	tasksTotal        = expvar.NewMap("scanhooks_tasks_total")
	actionsTotal      = expvar.NewMap("scanhooks_actions_total")
	actionErrors      = expvar.NewMap("scanhooks_action_errors_total")
	retentionDeleted  = expvar.NewMap("scanhooks_retention_deleted_total")
	publishErrors     = expvar.NewMap("scanhooks_publish_errors_total")
)

func IncRequest(provider string) {
	requestsTotal.Add(provider, 1)
}

func IncSignatureFailure(provider string) {
	signatureFailures.Add(provider, 1)
}

func IncTask(status string) {
	tasksTotal.Add(status, 1)
}

func IncAction(action string) {
	actionsTotal.Add(action, 1)
}

func IncActionError(action string) {
	actionErrors.Add(action, 1)
}

func AddRetentionDeleted(collection string, n int64) {
	retentionDeleted.Add(collection, n)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}
