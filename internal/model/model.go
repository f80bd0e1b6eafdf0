// Package model содержит доменные сущности реферального сервиса Elixr.
package model

import "time"

// ReferralCode описывает реферальный код, принадлежащий одному пользователю.
type ReferralCode struct {
	UserID    string
	Code      string
	CreatedAt time.Time
}

// RewardStatus описывает статус записи в журнале вознаграждений.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusCompleted RewardStatus = "completed"
	RewardStatusReversed  RewardStatus = "reversed"
)

// RewardEntry описывает одну запись журнала реферальных вознаграждений.
// Записи не удаляются: меняется только статус.
type RewardEntry struct {
	ID             string
	ReferrerUserID string
	ReferredUserID string
	Code           string
	Points         int64
	Amount         float64
	Status         RewardStatus
	OrderID        *string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ReversedAt     *time.Time
	ReversalReason string
}

// Reward содержит размер вознаграждения, рассчитанный политикой начисления.
type Reward struct {
	Points int64
	Amount float64
}

// ReferrerSummary содержит агрегированные данные по вознаграждениям реферера.
type ReferrerSummary struct {
	Completed int64   `json:"completed"`
	Pending   int64   `json:"pending"`
	Points    int64   `json:"points"`
	Amount    float64 `json:"amount"`
}

// Reason описывает причину отказа при проверке или начислении.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonNotFound        Reason = "not_found"
	ReasonSelfReferral    Reason = "self_referral"
	ReasonAlreadyReferred Reason = "already_referred"
	ReasonDuplicate       Reason = "duplicate"
	ReasonOrderCredited   Reason = "order_already_credited"
)

var reasonMessages = map[Reason]string{
	ReasonMalformed:       "Referral code must be 1-32 letters or digits",
	ReasonNotFound:        "Invalid referral code",
	ReasonSelfReferral:    "You cannot use your own referral code",
	ReasonAlreadyReferred: "You have already used a referral code",
	ReasonDuplicate:       "Referral reward already credited",
	ReasonOrderCredited:   "Referral reward already credited for this order",
}

// Message возвращает текст причины, пригодный для показа пользователю.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Decision описывает итог проверки реферального кода.
type Decision int

const (
	DecisionRejected Decision = iota
	DecisionAccepted
)

// ValidationResult описывает результат проверки кода: Accepted(referrerID) или Rejected(reason).
type ValidationResult struct {
	Decision   Decision
	ReferrerID string
	Code       string
	Reason     Reason
}

// Accepted сообщает, что код принят.
func (v ValidationResult) Accepted() bool {
	return v.Decision == DecisionAccepted
}

// Accept создаёт положительный результат проверки для канонического кода.
func Accept(referrerID, code string) ValidationResult {
	return ValidationResult{Decision: DecisionAccepted, ReferrerID: referrerID, Code: code}
}

// Reject создаёт отрицательный результат проверки с указанной причиной.
func Reject(reason Reason) ValidationResult {
	return ValidationResult{Decision: DecisionRejected, Reason: reason}
}

// AttributionOutcome описывает итог начисления вознаграждения.
type AttributionOutcome string

const (
	OutcomeAttributed AttributionOutcome = "attributed"
	OutcomePending    AttributionOutcome = "pending"
	OutcomeSkipped    AttributionOutcome = "skipped"
)

// AttributionResult описывает результат начисления: Attributed(entryID) или Skipped(reason).
type AttributionResult struct {
	Outcome AttributionOutcome
	EntryID string
	Reason  Reason
}

// Attributed создаёт результат успешного начисления.
func Attributed(entryID string) AttributionResult {
	return AttributionResult{Outcome: OutcomeAttributed, EntryID: entryID}
}

// Pending создаёт результат отложенного начисления, ожидающего завершения заказа.
func Pending(entryID string) AttributionResult {
	return AttributionResult{Outcome: OutcomePending, EntryID: entryID}
}

// Skipped создаёт результат пропущенного начисления.
func Skipped(reason Reason) AttributionResult {
	return AttributionResult{Outcome: OutcomeSkipped, Reason: reason}
}
