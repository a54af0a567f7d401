package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/constants"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestValidatePayloadAcceptsWellFormed(t *testing.T) {
	cases := map[string]any{
		constants.QueueFileImport:      FileImportPayload{FileName: "a.pdf", RemoteOrLocalPath: "/in/a.pdf"},
		constants.QueueInvoiceImport:   InvoiceImportPayload{FilePath: "/staging/a.pdf", FileName: "a.pdf"},
		constants.QueueEmail:           EmailPayload{DeliveryLogID: "id-1", Recipients: []string{"ops@example.com"}, Subject: "hi"},
		constants.QueueScheduledTasks:  ScheduledTaskPayload{TaskName: constants.TaskFileCleanup},
		constants.QueueBulkParsingTest: BulkParsingPayload{FilePath: "/tmp/a.pdf", FileName: "a.pdf"},
	}
	for queueName, payload := range cases {
		assert.NoError(t, ValidatePayload(queueName, mustJSON(t, payload)), queueName)
	}
}

func TestValidatePayloadRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string][]byte{
		constants.QueueFileImport:     []byte(`{"fileName":"a.pdf"}`),
		constants.QueueInvoiceImport:  []byte(`{"fileName":"a.pdf"}`),
		constants.QueueEmail:          []byte(`{"recipients":[],"subject":"x","deliveryLogId":"id"}`),
		constants.QueueScheduledTasks: []byte(`{}`),
	}
	for queueName, raw := range cases {
		assert.Error(t, ValidatePayload(queueName, raw), queueName)
	}
}

func TestValidatePayloadRejectsMalformedJSON(t *testing.T) {
	assert.Error(t, ValidatePayload(constants.QueueEmail, []byte(`{not json`)))
}

func TestValidatePayloadUnknownQueuePasses(t *testing.T) {
	assert.NoError(t, ValidatePayload("custom-queue", []byte(`{"anything":true}`)))
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	in := InvoiceImportPayload{
		FilePath:      "/staging/a.pdf",
		FileName:      "a.pdf",
		ContentDigest: "feed",
		IsDuplicate:   true,
		DuplicateOfID: "abc",
	}
	out, err := DecodePayload[InvoiceImportPayload](mustJSON(t, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
