// Package memory provides in-process repository implementations for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/repository"
	customError "github.com/aadvita/dues-engine/pkg/errors"
)

// Store holds members and installments behind one lock, so schedule writes are
// atomic the same way a Postgres transaction makes them.
type Store struct {
	mu           sync.RWMutex
	members      map[uuid.UUID]domain.Member
	installments map[uuid.UUID]domain.Installment
}

func NewStore() *Store {
	return &Store{
		members:      make(map[uuid.UUID]domain.Member),
		installments: make(map[uuid.UUID]domain.Installment),
	}
}

// Members returns the store as a MemberRepository.
func (s *Store) Members() repository.MemberRepository {
	return &memberRepo{s: s}
}

// Installments returns the store as an InstallmentRepository.
func (s *Store) Installments() repository.InstallmentRepository {
	return &installmentRepo{s: s}
}

type memberRepo struct {
	s *Store
}

func (r *memberRepo) Create(_ context.Context, member *domain.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.members {
		if existing.NationalID == member.NationalID {
			return customError.ErrDuplicateNationalID
		}
	}
	if _, ok := r.s.members[member.ID]; ok {
		return customError.ErrConflict
	}
	r.s.members[member.ID] = *member
	return nil
}

func (r *memberRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	member, ok := r.s.members[id]
	if !ok {
		return nil, customError.ErrMemberNotFound
	}
	return &member, nil
}

func (r *memberRepo) GetByNationalID(_ context.Context, nationalID string) (*domain.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, member := range r.s.members {
		if member.NationalID == nationalID {
			m := member
			return &m, nil
		}
	}
	return nil, customError.ErrMemberNotFound
}

func (r *memberRepo) Update(_ context.Context, member *domain.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.updateMemberLocked(member)
}

func (r *memberRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.members[id]; !ok {
		return customError.ErrMemberNotFound
	}
	for installmentID, installment := range r.s.installments {
		if installment.MemberID == id {
			delete(r.s.installments, installmentID)
		}
	}
	delete(r.s.members, id)
	return nil
}

func (r *memberRepo) List(_ context.Context, filter domain.MemberFilter) ([]*domain.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.listMembersLocked(func(m *domain.Member) bool {
		if filter.Status != "" && m.Status != filter.Status {
			return false
		}
		if filter.Active != nil && m.Active != *filter.Active {
			return false
		}
		return true
	}), nil
}

func (r *memberRepo) ListBillable(_ context.Context) ([]*domain.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.listMembersLocked(func(m *domain.Member) bool { return m.Billable() }), nil
}

type installmentRepo struct {
	s *Store
}

func (r *installmentRepo) SaveSchedule(_ context.Context, member *domain.Member, schedule []*domain.Installment, replace bool) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.members[member.ID]
	if !ok {
		return 0, customError.ErrMemberNotFound
	}
	if current.Version != member.Version {
		return 0, customError.ErrConflict
	}

	existing := r.s.installmentsOfLocked(member.ID)
	if len(existing) > 0 && !replace {
		return 0, customError.ErrScheduleExists
	}

	seen := make(map[domain.Period]bool, len(schedule))
	for _, installment := range schedule {
		if seen[installment.Period()] {
			return 0, customError.ErrConflict
		}
		seen[installment.Period()] = true
	}

	if err := r.s.updateMemberLocked(member); err != nil {
		return 0, err
	}

	paidDeleted := 0
	for _, installment := range existing {
		if installment.Status == domain.InstallmentStatusPaid {
			paidDeleted++
		}
		delete(r.s.installments, installment.ID)
	}
	for _, installment := range schedule {
		r.s.installments[installment.ID] = *installment
	}
	return paidDeleted, nil
}

func (r *installmentRepo) AppendInstallment(_ context.Context, memberID uuid.UUID, plan repository.AppendPlanner) (*domain.Installment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	member, ok := r.s.members[memberID]
	if !ok {
		return nil, customError.ErrMemberNotFound
	}

	existing := r.s.installmentsOfLocked(memberID)
	var latest *domain.Installment
	if len(existing) > 0 {
		last := *existing[len(existing)-1]
		latest = &last
	}

	candidate, err := plan(&member, latest)
	if err != nil || candidate == nil {
		return nil, err
	}

	for _, installment := range existing {
		if installment.Period() == candidate.Period() {
			return nil, nil
		}
	}

	r.s.installments[candidate.ID] = *candidate
	return candidate, nil
}

func (r *installmentRepo) Transition(_ context.Context, id uuid.UUID, mutate repository.InstallmentMutator) (*domain.Installment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	installment, ok := r.s.installments[id]
	if !ok {
		return nil, customError.ErrInstallmentNotFound
	}
	if err := mutate(&installment); err != nil {
		return nil, err
	}
	r.s.installments[id] = installment
	return &installment, nil
}

func (r *installmentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Installment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	installment, ok := r.s.installments[id]
	if !ok {
		return nil, customError.ErrInstallmentNotFound
	}
	return &installment, nil
}

func (r *installmentRepo) ListByMember(_ context.Context, memberID uuid.UUID) ([]*domain.Installment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.installmentsOfLocked(memberID), nil
}

func (r *installmentRepo) ListOverdue(_ context.Context, asOf time.Time) ([]*domain.Installment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.listInstallmentsLocked(func(i *domain.Installment) bool { return i.IsOverdue(asOf) }), nil
}

func (r *installmentRepo) List(_ context.Context, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.listInstallmentsLocked(filter.Matches), nil
}

func (s *Store) updateMemberLocked(member *domain.Member) error {
	current, ok := s.members[member.ID]
	if !ok {
		return customError.ErrMemberNotFound
	}
	if current.Version != member.Version {
		return customError.ErrConflict
	}
	member.Version++
	member.UpdatedAt = time.Now().UTC()
	s.members[member.ID] = *member
	return nil
}

func (s *Store) listMembersLocked(keep func(*domain.Member) bool) []*domain.Member {
	members := make([]*domain.Member, 0)
	for _, member := range s.members {
		m := member
		if keep(&m) {
			members = append(members, &m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID.String() < members[j].ID.String()
	})
	return members
}

func (s *Store) installmentsOfLocked(memberID uuid.UUID) []*domain.Installment {
	return s.listInstallmentsLocked(func(i *domain.Installment) bool { return i.MemberID == memberID })
}

// listInstallmentsLocked returns copies ordered by member, then reference period.
func (s *Store) listInstallmentsLocked(keep func(*domain.Installment) bool) []*domain.Installment {
	installments := make([]*domain.Installment, 0)
	for _, installment := range s.installments {
		i := installment
		if keep(&i) {
			installments = append(installments, &i)
		}
	}
	sort.Slice(installments, func(a, b int) bool {
		if installments[a].MemberID != installments[b].MemberID {
			return installments[a].MemberID.String() < installments[b].MemberID.String()
		}
		return installments[a].Period().Before(installments[b].Period())
	})
	return installments
}
