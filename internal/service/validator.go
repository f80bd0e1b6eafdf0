package service

import (
	"context"
	"errors"

	"github.com/mmeshcher/elixr-referral/internal/model"
	"github.com/mmeshcher/elixr-referral/internal/repository"
	"github.com/mmeshcher/elixr-referral/internal/validation"
)

// ReferrerLookup описывает операции чтения, нужные для проверки кода.
type ReferrerLookup interface {
	FindReferrerByCode(ctx context.Context, code string) (string, error)
	HasCompletedReward(ctx context.Context, referredUserID string) (bool, error)
}

// Validator проверяет реферальный код без записи в хранилище.
type Validator struct {
	store ReferrerLookup
}

// NewValidator создаёт валидатор поверх хранилища.
func NewValidator(store ReferrerLookup) *Validator {
	return &Validator{store: store}
}

// Validate проверяет код для пользователя requestingUserID.
// Пустой requestingUserID означает анонимную проверку: правила самоприглашения и повторного приглашения не применяются.
// Отказы возвращаются значением, ошибка означает сбой хранилища.
func (v *Validator) Validate(ctx context.Context, rawCode, requestingUserID string) (model.ValidationResult, error) {
	code, err := validation.Normalize(rawCode)
	if err != nil {
		return model.Reject(model.ReasonMalformed), nil
	}

	referrerID, err := v.store.FindReferrerByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return model.Reject(model.ReasonNotFound), nil
		}
		return model.ValidationResult{}, err
	}

	if requestingUserID == "" {
		return model.Accept(referrerID, code), nil
	}

	if requestingUserID == referrerID {
		return model.Reject(model.ReasonSelfReferral), nil
	}

	referred, err := v.store.HasCompletedReward(ctx, requestingUserID)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if referred {
		return model.Reject(model.ReasonAlreadyReferred), nil
	}

	return model.Accept(referrerID, code), nil
}
