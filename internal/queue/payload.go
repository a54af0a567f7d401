package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docflowhq/docflow/constants"
)

// Payloads are typed per queue and validated against a JSON schema when a
// worker dequeues the job, so a malformed producer fails loudly instead of
// deep inside a handler.

// FileImportPayload asks a worker to fetch one remote file into staging and
// hand it to the invoice-import queue.
type FileImportPayload struct {
	FileName          string `json:"fileName"`
	RemoteOrLocalPath string `json:"remoteOrLocalPath"`
	SourceConfig      string `json:"sourceConfig,omitempty"` // source kind tag (local/ftp/sftp)
	FTPFolder         string `json:"ftpFolder,omitempty"`
}

// InvoiceImportPayload carries a staged local file through the extraction
// pipeline.
type InvoiceImportPayload struct {
	FilePath      string `json:"filePath"`
	FileName      string `json:"fileName"`
	ImportBatchID string `json:"importBatchId,omitempty"`
	SourceTag     string `json:"sourceTag,omitempty"`
	ContentDigest string `json:"contentDigest,omitempty"`
	IsDuplicate   bool   `json:"isDuplicate,omitempty"`
	DuplicateOfID string `json:"duplicateOfId,omitempty"`
}

// EmailPayload is an outbound notification. Provider settings travel with
// the job so a worker never reads mutable global state mid-flight.
type EmailPayload struct {
	DeliveryLogID    string            `json:"deliveryLogId"`
	Recipients       []string          `json:"recipients"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body,omitempty"`
	Attachments      []string          `json:"attachments,omitempty"`
	ProviderSettings map[string]string `json:"providerSettings,omitempty"`
}

// ScheduledTaskPayload names a periodic task to run ("local-folder-scan",
// "file-cleanup").
type ScheduledTaskPayload struct {
	TaskName string `json:"taskName"`
}

// BulkParsingPayload runs one file through extraction without persistence or
// routing, reporting the result. Used by the batch test CLI.
type BulkParsingPayload struct {
	FilePath   string `json:"filePath"`
	FileName   string `json:"fileName"`
	TemplateID string `json:"templateId,omitempty"`
}

const fileImportSchema = `{
	"type": "object",
	"required": ["fileName", "remoteOrLocalPath"],
	"properties": {
		"fileName": {"type": "string", "minLength": 1},
		"remoteOrLocalPath": {"type": "string", "minLength": 1},
		"sourceConfig": {"type": "string"},
		"ftpFolder": {"type": "string"}
	}
}`

const invoiceImportSchema = `{
	"type": "object",
	"required": ["filePath", "fileName"],
	"properties": {
		"filePath": {"type": "string", "minLength": 1},
		"fileName": {"type": "string", "minLength": 1},
		"importBatchId": {"type": "string"},
		"sourceTag": {"type": "string"},
		"contentDigest": {"type": "string"},
		"isDuplicate": {"type": "boolean"},
		"duplicateOfId": {"type": "string"}
	}
}`

const emailSchema = `{
	"type": "object",
	"required": ["deliveryLogId", "recipients", "subject"],
	"properties": {
		"deliveryLogId": {"type": "string", "minLength": 1},
		"recipients": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
		"subject": {"type": "string", "minLength": 1},
		"body": {"type": "string"},
		"attachments": {"type": "array", "items": {"type": "string"}},
		"providerSettings": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

const scheduledTaskSchema = `{
	"type": "object",
	"required": ["taskName"],
	"properties": {
		"taskName": {"type": "string", "minLength": 1}
	}
}`

const bulkParsingSchema = `{
	"type": "object",
	"required": ["filePath", "fileName"],
	"properties": {
		"filePath": {"type": "string", "minLength": 1},
		"fileName": {"type": "string", "minLength": 1},
		"templateId": {"type": "string"}
	}
}`

var payloadSchemas = map[string]*jsonschema.Schema{
	constants.QueueFileImport:      jsonschema.MustCompileString("file-import.json", fileImportSchema),
	constants.QueueInvoiceImport:   jsonschema.MustCompileString("invoice-import.json", invoiceImportSchema),
	constants.QueueEmail:           jsonschema.MustCompileString("email.json", emailSchema),
	constants.QueueScheduledTasks:  jsonschema.MustCompileString("scheduled-tasks.json", scheduledTaskSchema),
	constants.QueueBulkParsingTest: jsonschema.MustCompileString("bulk-parsing-test.json", bulkParsingSchema),
}

// ValidatePayload checks raw against the queue's schema. Queues without a
// registered schema accept any JSON.
func ValidatePayload(queue string, raw []byte) error {
	schema, ok := payloadSchemas[queue]
	if !ok {
		return nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload schema: %w", err)
	}
	return nil
}

// DecodePayload unmarshals a validated payload into its typed form.
func DecodePayload[T any](raw []byte) (T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
