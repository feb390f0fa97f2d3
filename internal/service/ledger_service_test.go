package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aadvita/dues-engine/internal/domain"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

func TestLedgerService_RecordPayment(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := context.Background()
	approved := h.seedApproved(t, "Ana", dues("100", domain.DiscountKindNone, "0"))
	target := approved.Installments[0]

	paid, err := h.ledger.RecordPayment(ctx, target.ID, at(2025, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusPaid, paid.Status)
	require.NotNil(t, paid.PaymentDate)
	assert.Equal(t, "2025-03-15", paid.PaymentDate.Format("2006-01-02"))

	// paying twice is rejected and leaves the row alone
	_, err = h.ledger.RecordPayment(ctx, target.ID, at(2025, time.April, 1))
	assert.Equal(t, customError.KindInvalidTransition, customError.KindOf(err))

	stored, err := h.store.Installments().GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusPaid, stored.Status)
	assert.Equal(t, "2025-03-15", stored.PaymentDate.Format("2006-01-02"))
}

func TestLedgerService_CancelReopen(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := context.Background()
	approved := h.seedApproved(t, "Bia", dues("80", domain.DiscountKindPercent, "25"))
	target := approved.Installments[3]

	_, err := h.ledger.Cancel(ctx, target.ID, "  ")
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))

	cancelled, err := h.ledger.Cancel(ctx, target.ID, "member travelling")
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusCancelled, cancelled.Status)
	assert.Equal(t, "member travelling", cancelled.Notes)

	_, err = h.ledger.RecordPayment(ctx, target.ID, at(2025, time.June, 1))
	assert.Equal(t, customError.KindInvalidTransition, customError.KindOf(err))

	_, err = h.ledger.Cancel(ctx, target.ID, "again")
	assert.Equal(t, customError.KindInvalidTransition, customError.KindOf(err))

	reopened, err := h.ledger.Reopen(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusPending, reopened.Status)
	assert.Nil(t, reopened.PaymentDate)
	assert.True(t, reopened.FinalAmount.Equal(target.FinalAmount))
	assert.True(t, reopened.DueDate.Equal(target.DueDate))

	_, err = h.ledger.Reopen(ctx, target.ID)
	assert.Equal(t, customError.KindInvalidTransition, customError.KindOf(err))
}

func TestLedgerService_RevertPayment(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := domain.WithActor(context.Background(), "treasurer")
	approved := h.seedApproved(t, "Caio", dues("100", domain.DiscountKindNone, "0"))
	target := approved.Installments[0]

	_, err := h.ledger.RevertPayment(ctx, target.ID, "wrong member")
	assert.Equal(t, customError.KindInvalidTransition, customError.KindOf(err))

	_, err = h.ledger.RecordPayment(ctx, target.ID, at(2025, time.March, 15))
	require.NoError(t, err)

	reverted, err := h.ledger.RevertPayment(ctx, target.ID, "wrong member")
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusPending, reverted.Status)
	assert.Nil(t, reverted.PaymentDate)
	assert.Equal(t, "wrong member", reverted.Notes)
}

func TestLedgerService_NotFound(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := context.Background()

	_, err := h.ledger.RecordPayment(ctx, uuid.New(), at(2025, time.March, 15))
	assert.Equal(t, customError.KindNotFound, customError.KindOf(err))

	_, err = h.ledger.Reopen(ctx, uuid.New())
	assert.Equal(t, customError.KindNotFound, customError.KindOf(err))

	_, err = h.ledger.ListForMember(ctx, uuid.New())
	assert.Equal(t, customError.KindNotFound, customError.KindOf(err))
}

func TestLedgerService_ConcurrentPaymentsSerialize(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := context.Background()
	approved := h.seedApproved(t, "Dora", dues("100", domain.DiscountKindNone, "0"))
	target := approved.Installments[0]

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.RecordPayment(ctx, target.ID, at(2025, time.March, 15))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if customError.KindOf(err) == customError.KindInvalidTransition {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
}

func TestLedgerService_Listings(t *testing.T) {
	h := newHarness(t, at(2025, time.March, 12))
	ctx := context.Background()
	approved := h.seedApproved(t, "Edu", dues("100", domain.DiscountKindNone, "0"))

	installments, err := h.ledger.ListForMember(ctx, approved.Member.ID)
	require.NoError(t, err)
	require.Len(t, installments, 12)
	for i := 1; i < len(installments); i++ {
		assert.True(t, installments[i-1].Period().Before(installments[i].Period()))
	}

	_, err = h.ledger.RecordPayment(ctx, installments[0].ID, at(2025, time.March, 17))
	require.NoError(t, err)
	_, err = h.ledger.Cancel(ctx, installments[1].ID, "waived")
	require.NoError(t, err)

	// due strictly before 2025-06-12: March (paid), April (cancelled), May (pending)
	overdue, err := h.ledger.ListOverdue(ctx, day(2025, time.June, 12))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "2025-05-12", overdue[0].DueDate.Format("2006-01-02"))
}

func TestLedgerService_TransitionsPreserveAmountsAndDates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t, at(2025, time.March, 12))
		ctx := context.Background()
		approved := h.seedApproved(t, "Fael", dues("90", domain.DiscountKindAbsolute, "15"))
		target := approved.Installments[rapid.IntRange(0, 11).Draw(rt, "index")]

		status := domain.InstallmentStatusPending
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"pay", "cancel", "reopen", "revert"}), 1, 20).Draw(rt, "steps")
		for _, step := range steps {
			var err error
			previous := status
			switch step {
			case "pay":
				_, err = h.ledger.RecordPayment(ctx, target.ID, at(2025, time.May, 2))
				if previous == domain.InstallmentStatusPending {
					status = domain.InstallmentStatusPaid
				}
			case "cancel":
				_, err = h.ledger.Cancel(ctx, target.ID, "reason")
				if previous == domain.InstallmentStatusPending {
					status = domain.InstallmentStatusCancelled
				}
			case "reopen":
				_, err = h.ledger.Reopen(ctx, target.ID)
				if previous == domain.InstallmentStatusCancelled {
					status = domain.InstallmentStatusPending
				}
			case "revert":
				_, err = h.ledger.RevertPayment(ctx, target.ID, "reason")
				if previous == domain.InstallmentStatusPaid {
					status = domain.InstallmentStatusPending
				}
			}

			if status == previous {
				assert.Equal(rt, customError.KindInvalidTransition, customError.KindOf(err))
			} else {
				assert.NoError(rt, err)
			}

			stored, err := h.store.Installments().GetByID(ctx, target.ID)
			require.NoError(rt, err)
			assert.Equal(rt, status, stored.Status)
			assert.Equal(rt, status == domain.InstallmentStatusPaid, stored.PaymentDate != nil)
			assert.True(rt, stored.FinalAmount.Equal(target.FinalAmount))
			assert.True(rt, stored.BaseAmount.Equal(target.BaseAmount))
			assert.True(rt, stored.DueDate.Equal(target.DueDate))
			assert.Equal(rt, target.Period(), stored.Period())
		}
	})
}
