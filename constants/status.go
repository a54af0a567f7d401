package constants

// DocumentStatus is the canonical status for persisted document records.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocStatusProcessing  DocumentStatus = "PROCESSING"  // record created, extraction in flight
	DocStatusParsed      DocumentStatus = "PARSED"      // extracted and matched to a company
	DocStatusUnallocated DocumentStatus = "UNALLOCATED" // extracted but no company match
	DocStatusDuplicate   DocumentStatus = "DUPLICATE"   // content digest already known
	DocStatusFailed      DocumentStatus = "FAILED"      // terminal failure
)

// DocumentType is the classified business document type.
type DocumentType string

const (
	DocTypeInvoice    DocumentType = "invoice"
	DocTypeCreditNote DocumentType = "credit_note"
	DocTypeStatement  DocumentType = "statement"
)

// TerminalState selects the routing destination for a processed file.
type TerminalState string

const (
	TerminalProcessed TerminalState = "processed"
	TerminalDuplicate TerminalState = "duplicate"
	TerminalFailed    TerminalState = "failed"
)

// FailureReasonNoMatch is recorded when parsing succeeded but no company
// matched the extracted account number. It is a status, not an error.
const FailureReasonNoMatch = "no_company_match"

// DeliveryStatus tracks outbound notification delivery.
type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "PENDING"
	DeliverySent            DeliveryStatus = "SENT"
	DeliveryFailedPermanent DeliveryStatus = "FAILED_PERMANENT"
)
