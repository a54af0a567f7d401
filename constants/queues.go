package constants

// Queue names. Stable values: job rows reference these in the queue store.
const (
	QueueFileImport      = "file-import"
	QueueInvoiceImport   = "invoice-import"
	QueueBulkParsingTest = "bulk-parsing-test"
	QueueEmail           = "email"
	QueueScheduledTasks  = "scheduled-tasks"
)

// Scheduled task names dispatched through QueueScheduledTasks.
const (
	TaskLocalFolderScan = "local-folder-scan"
	TaskFileCleanup     = "file-cleanup"
)
