package models

// ExportState is the lifecycle state of one logical export.
type ExportState string

const (
	StateEnqueued          ExportState = "enqueued"
	StateRunning           ExportState = "running"
	StateSucceeded         ExportState = "succeeded"
	StateFailed            ExportState = "failed"
	StatePermanentlyFailed ExportState = "permanently_failed"
)

const (
	// SuccessSuffix and FailureSuffix are appended to the export id to name
	// notification records, so a failure never overwrites a success.
	SuccessSuffix = ""
	FailureSuffix = "_error"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	// DefaultTaskTimeoutSeconds per-attempt timeout applied by the worker
	DefaultTaskTimeoutSeconds = 600

	// DefaultMaxTries attempts before a task is dead-lettered
	DefaultMaxTries = 3

	// DefaultQueueName prefix of the Redis keys backing the export queue
	DefaultQueueName = "exports"

	// DefaultWorkers concurrent export slots
	DefaultWorkers = 2

	// WorkerQueueSize capacity of the in-memory fallback queue
	WorkerQueueSize = 1000
)

// CSVHeader is the column contract of the catalog CSV. Downstream consumers
// depend on the exact order.
var CSVHeader = []string{
	"ID",
	"Name",
	"Article",
	"Category",
	"Manufacturer",
	"Price",
	"Image URL",
	"Maintenances",
}
