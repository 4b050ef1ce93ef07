package model

// Outcome is the verdict of a verification attempt.
type Outcome string

const (
	OutcomeGranted  Outcome = "granted"
	OutcomeRejected Outcome = "rejected"
	OutcomePending  Outcome = "pending"
	// OutcomeFailed is an internal failure (storage), not a judgement on the payment.
	OutcomeFailed Outcome = "failed"
)

// Reason is the structured code returned next to every negative answer.
// The string values are part of the HTTP contract.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonUnknownProduct            Reason = "UnknownProduct"
	ReasonInvalidTransactionHash    Reason = "InvalidTransactionHash"
	ReasonTransactionNotFound       Reason = "TransactionNotFound"
	ReasonWrongAddress              Reason = "WrongAddress"
	ReasonInsufficientAmount        Reason = "InsufficientAmount"
	ReasonInsufficientConfirmations Reason = "InsufficientConfirmations"
	ReasonPaymentPredatesProduct    Reason = "PaymentPredatesProduct"
	ReasonReplayedTransaction       Reason = "ReplayedTransaction"
	ReasonRedundantPayment          Reason = "RedundantPayment"
	ReasonExplorerUnreachable       Reason = "ExplorerUnreachable"
	ReasonStorageUnavailable        Reason = "StorageUnavailable"
	ReasonNoEntitlement             Reason = "NoEntitlement"
	ReasonEntitlementExpired        Reason = "EntitlementExpired"
	ReasonInsufficientBalance       Reason = "InsufficientBalance"
	ReasonBalanceUnavailable        Reason = "BalanceUnavailable"
)

// Retryable reports whether the client should try the same request again later.
func (r Reason) Retryable() bool {
	return r == ReasonExplorerUnreachable || r == ReasonBalanceUnavailable || r == ReasonStorageUnavailable
}
